package client

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fwb-labs/langlab_service/internal/errors"
)

// Column headers expected in the license spreadsheet.
const (
	licenseKeyColumn  = "cle_licence"
	accountNameColumn = "nom_client"
)

// SheetClient fetches the school license directory: a published spreadsheet
// exposed as a CSV export URL, one row per activation key.
type SheetClient struct {
	sheetURL string
	client   *http.Client
}

// NewSheetClient creates a new license sheet client.
func NewSheetClient(sheetURL string) *SheetClient {
	return &SheetClient{
		sheetURL: sheetURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Lookup downloads the sheet and returns the account name for the given
// activation key. Keys and cells are compared after trimming whitespace.
// A missing key returns errors.ErrNotFound; transport or format problems
// return errors.ErrAuthorization.
func (c *SheetClient) Lookup(ctx context.Context, activationKey string) (string, error) {
	if c.sheetURL == "" {
		return "", errors.New(errors.ErrAuthorization, "license sheet URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.sheetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.ErrAuthorization, "license sheet unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.New(errors.ErrAuthorization,
			fmt.Sprintf("license sheet returned %d: %s", resp.StatusCode, string(body)))
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return "", errors.Wrap(errors.ErrAuthorization, "failed to read license sheet header", err)
	}

	keyIdx, nameIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case licenseKeyColumn:
			keyIdx = i
		case accountNameColumn:
			nameIdx = i
		}
	}
	if keyIdx < 0 || nameIdx < 0 {
		return "", errors.New(errors.ErrAuthorization, "license sheet missing expected columns")
	}

	want := strings.TrimSpace(activationKey)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(errors.ErrAuthorization, "failed to parse license sheet", err)
		}
		if keyIdx >= len(record) || nameIdx >= len(record) {
			continue
		}
		if strings.TrimSpace(record[keyIdx]) == want {
			return strings.TrimSpace(record[nameIdx]), nil
		}
	}

	return "", errors.New(errors.ErrNotFound, "activation key not found")
}
