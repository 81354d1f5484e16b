// Package gemini talks to the Gemini API on behalf of a user, using the
// user's own API key for every call.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const filePollInterval = 2 * time.Second

type Client struct {
	log *slog.Logger
}

func NewClient(log *slog.Logger) *Client {
	return &Client{log: log}
}

func (c *Client) newGenAI(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return client, nil
}

// TranscribeFile uploads the file, asks the model to transcribe it and
// always deletes the remote copy afterwards.
func (c *Client) TranscribeFile(ctx context.Context, apiKey, model, path, mimeType, prompt string) (string, error) {
	client, err := c.newGenAI(ctx, apiKey)
	if err != nil {
		return "", err
	}

	file, err := client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer c.deleteFile(client, file.Name)

	file, err = waitActive(ctx, client, file)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromURI(file.URI, file.MIMEType),
		}, genai.RoleUser),
	}
	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

func (c *Client) GenerateText(ctx context.Context, apiKey, model, prompt string) (string, error) {
	client, err := c.newGenAI(ctx, apiKey)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// deleteFile runs on its own context so a timed out request still cleans up.
func (c *Client) deleteFile(client *genai.Client, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.Files.Delete(ctx, name, nil); err != nil && c.log != nil {
		c.log.Warn("delete uploaded file", "name", name, "err", err)
	}
}

func waitActive(ctx context.Context, client *genai.Client, file *genai.File) (*genai.File, error) {
	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}
		next, err := client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll file state: %w", err)
		}
		file = next
	}
	if file.State == genai.FileStateFailed {
		return nil, errors.New("uploaded file failed processing")
	}
	return file, nil
}
