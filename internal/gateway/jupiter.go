package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"copy-trader-sol/internal/types"
)

const (
	defaultJupiterQuoteURL = "https://quote-api.jup.ag/v6/quote"
	defaultJupiterSwapURL  = "https://quote-api.jup.ag/v6/swap"
)

// JupiterRouter 通过 Jupiter 聚合器 HTTP API 构造换币交易，
// 作为卖出失败后的协议无关兜底路径。
type JupiterRouter struct {
	quoteURL string
	swapURL  string
	httpCli  *http.Client
}

func NewJupiterRouter(quoteURL, swapURL string) *JupiterRouter {
	if quoteURL == "" {
		quoteURL = defaultJupiterQuoteURL
	}
	if swapURL == "" {
		swapURL = defaultJupiterSwapURL
	}
	return &JupiterRouter{
		quoteURL: quoteURL,
		swapURL:  swapURL,
		httpCli:  &http.Client{Timeout: 10 * time.Second},
	}
}

type jupiterSwapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type jupiterSwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// BuildSwap 先询价再换取序列化交易，返回未签名交易字节。
func (r *JupiterRouter) BuildSwap(
	ctx context.Context,
	owner types.Pubkey,
	inputMint, outputMint types.Pubkey,
	amountRaw uint64,
	slippageBps uint32,
) ([]byte, error) {
	quote, err := r.fetchQuote(ctx, inputMint, outputMint, amountRaw, slippageBps)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(jupiterSwapRequest{
		QuoteResponse:    quote,
		UserPublicKey:    owner.String(),
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.swapURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpCli.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter swap status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var swapResp jupiterSwapResponse
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}
	if swapResp.Error != "" {
		return nil, fmt.Errorf("jupiter swap error: %s", swapResp.Error)
	}
	if swapResp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter swap: empty transaction")
	}

	rawTx, err := base64.StdEncoding.DecodeString(swapResp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	return rawTx, nil
}

func (r *JupiterRouter) fetchQuote(
	ctx context.Context,
	inputMint, outputMint types.Pubkey,
	amountRaw uint64,
	slippageBps uint32,
) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint.String())
	params.Set("outputMint", outputMint.String())
	params.Set("amount", strconv.FormatUint(amountRaw, 10))
	params.Set("slippageBps", strconv.FormatUint(uint64(slippageBps), 10))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.quoteURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := r.httpCli.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter quote status %d: %s", resp.StatusCode, truncateBody(body))
	}
	return json.RawMessage(body), nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
