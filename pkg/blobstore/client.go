// Package blobstore talks to the external blob handler: it exchanges round
// and participant identifiers for pre-signed URLs, then performs the actual
// GET/PUT against those URLs.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Client is the blob handler HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the blob handler reachable at baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type downloadRequest struct {
	RoundID string `json:"roundId"`
	BankID  string `json:"bankId"`
}

type downloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

type uploadRequest struct {
	RoundID string `json:"roundId"`
	BankID  string `json:"bankId"`
}

type uploadResponse struct {
	UploadURL  string `json:"uploadUrl"`
	ObjectPath string `json:"objectPath"`
}

// Download fetches the model belonging to (roundID, participantID), writing
// it to modelDir/<roundID>/<participantID>.weights, and returns that path.
func (c *Client) Download(ctx context.Context, modelDir, roundID, participantID string) (string, error) {
	body, err := json.Marshal(downloadRequest{RoundID: roundID, BankID: participantID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request download url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("request download url: unexpected status %d", resp.StatusCode)
	}

	var dr downloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("decode download url response: %w", err)
	}

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, dr.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	getResp, err := c.httpClient.Do(getReq)
	if err != nil {
		return "", fmt.Errorf("fetch weights: %w", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch weights: unexpected status %d", getResp.StatusCode)
	}

	dir := filepath.Join(modelDir, roundID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create round dir: %w", err)
	}
	localPath := filepath.Join(dir, participantID+".weights")

	f, err := os.Create(localPath) // #nosec G304 - path built from MODEL_DIR and ledger-validated round/participant IDs
	if err != nil {
		return "", fmt.Errorf("create local weights file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, getResp.Body); err != nil {
		return "", fmt.Errorf("write local weights file: %w", err)
	}
	return localPath, nil
}

// Upload requests a pre-signed upload URL for the aggregator's own output
// and PUTs localPath's bytes to it, returning the resulting object path.
func (c *Client) Upload(ctx context.Context, localPath, roundID string) (string, error) {
	body, err := json.Marshal(uploadRequest{RoundID: roundID, BankID: "aggregator"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request upload url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("request upload url: unexpected status %d", resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("decode upload url response: %w", err)
	}

	data, err := os.ReadFile(localPath) // #nosec G304 - path produced by this process's own aggregation output step
	if err != nil {
		return "", fmt.Errorf("read local model file: %w", err)
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, ur.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	putResp, err := c.httpClient.Do(putReq)
	if err != nil {
		return "", fmt.Errorf("put model bytes: %w", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode >= 300 {
		return "", fmt.Errorf("put model bytes: unexpected status %d", putResp.StatusCode)
	}

	return ur.ObjectPath, nil
}
