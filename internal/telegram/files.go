package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// FileAPI resolves Telegram file ids. *bot.Bot implements it.
type FileAPI interface {
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// DownloadFile downloads a file by id, reading at most limit bytes.
func DownloadFile(ctx context.Context, api FileAPI, client *http.Client, fileID string, limit int64) ([]byte, error) {
	file, err := api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > limit {
		return nil, fmt.Errorf("file %s is %d bytes, over the %d limit", fileID, file.FileSize, limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}
	return data, nil
}
