package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const providerTimeout = 10 * time.Second

// JettonWalletResolver resolves the jetton sub-account that holds a wallet's
// token balance under a given jetton master contract. Providers are tried in
// order; any single provider failing is not fatal.
type JettonWalletResolver interface {
	Name() string
	ResolveJettonWallet(ctx context.Context, owner, master string) (string, error)
}

// SeqnoOracle returns a wallet's current outgoing-transaction counter.
type SeqnoOracle interface {
	Seqno(ctx context.Context, address string) (uint32, error)
}

// Broadcaster submits a serialized external message to the network.
type Broadcaster interface {
	SendBoc(ctx context.Context, boc []byte) error
}

// ==========================
// toncenter
// ==========================

// ToncenterClient is the primary provider: jetton-wallet lookup (v3 index),
// seqno, and broadcast (v2 RPC).
type ToncenterClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewToncenterClient(baseURL, apiKey string) *ToncenterClient {
	return &ToncenterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: providerTimeout},
	}
}

func (c *ToncenterClient) Name() string { return "toncenter" }

func (c *ToncenterClient) ResolveJettonWallet(ctx context.Context, owner, master string) (string, error) {
	q := url.Values{}
	q.Set("owner_address", owner)
	q.Set("jetton_address", master)
	q.Set("limit", "1")

	var out struct {
		JettonWallets []struct {
			Address string `json:"address"`
		} `json:"jetton_wallets"`
	}
	if err := c.getJSON(ctx, "/api/v3/jetton/wallets?"+q.Encode(), &out); err != nil {
		return "", err
	}
	if len(out.JettonWallets) == 0 || out.JettonWallets[0].Address == "" {
		return "", fmt.Errorf("toncenter: no jetton wallet indexed for owner %s", owner)
	}
	return out.JettonWallets[0].Address, nil
}

// Seqno fetches the wallet's transaction counter. An uninitialized account
// reports 0, which is only valid for a wallet that has never sent a message.
func (c *ToncenterClient) Seqno(ctx context.Context, address string) (uint32, error) {
	var out struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		Result struct {
			Seqno        uint32 `json:"seqno"`
			AccountState string `json:"account_state"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, "/api/v2/getWalletInformation?address="+url.QueryEscape(address), &out); err != nil {
		return 0, err
	}
	if !out.OK {
		return 0, fmt.Errorf("toncenter: getWalletInformation: %s", out.Error)
	}
	return out.Result.Seqno, nil
}

func (c *ToncenterClient) SendBoc(ctx context.Context, boc []byte) error {
	payload, _ := json.Marshal(map[string]string{
		"boc": base64.StdEncoding.EncodeToString(boc),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/sendBoc", strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("toncenter: broadcast: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("toncenter: decode broadcast response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("toncenter: broadcast rejected (code %d): %s", out.Code, out.Error)
	}
	return nil
}

func (c *ToncenterClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("toncenter: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("toncenter: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *ToncenterClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// ==========================
// tonapi
// ==========================

// TonapiClient is the fallback jetton-wallet resolver.
type TonapiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewTonapiClient(baseURL, apiKey string) *TonapiClient {
	return &TonapiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: providerTimeout},
	}
}

func (c *TonapiClient) Name() string { return "tonapi" }

func (c *TonapiClient) ResolveJettonWallet(ctx context.Context, owner, master string) (string, error) {
	path := fmt.Sprintf("/v2/accounts/%s/jettons/%s", url.PathEscape(owner), url.PathEscape(master))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tonapi: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tonapi: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		WalletAddress struct {
			Address string `json:"address"`
		} `json:"wallet_address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tonapi: decode response: %w", err)
	}
	if out.WalletAddress.Address == "" {
		return "", fmt.Errorf("tonapi: no jetton wallet for owner %s", owner)
	}
	return out.WalletAddress.Address, nil
}
