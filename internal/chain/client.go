// Package chain предоставляет клиент JSON-RPC для проверки транзакций в блокчейн-сетях.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/furnishop-system/internal/model"
)

// ErrUnsupportedNetwork возвращается для идентификатора сети вне сконфигурированной таблицы.
var (
	ErrUnsupportedNetwork = errors.New("unsupported network")
	// ErrChainUnreachable возвращается, если RPC-узел сети недоступен.
	ErrChainUnreachable = errors.New("chain rpc unreachable")
	// ErrReceiptNotFound возвращается, если чек транзакции ещё не появился в сети.
	// Это не окончательный отказ: транзакция может быть ещё не включена в блок.
	ErrReceiptNotFound = errors.New("transaction receipt not found")
)

// Receipt содержит данные чека транзакции.
type Receipt struct {
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Transaction содержит данные транзакции, необходимые для проверки получателя.
type Transaction struct {
	From  string
	To    string
	Value string
}

// Client выполняет запросы JSON-RPC к узлам поддерживаемых сетей.
type Client struct {
	networks   map[int64]model.Network
	httpClient *http.Client
}

// NewClient создаёт клиент для указанной таблицы сетей.
func NewClient(networks map[int64]model.Network) *Client {
	return &Client{
		networks: networks,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Network возвращает конфигурацию сети по идентификатору.
func (c *Client) Network(chainID int64) (model.Network, bool) {
	n, ok := c.networks[chainID]
	return n, ok
}

// Networks возвращает таблицу поддерживаемых сетей.
func (c *Client) Networks() map[int64]model.Network {
	return c.networks
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, chainID int64, method string, params []any, result any) error {
	network, ok := c.networks[chainID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedNetwork, chainID)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, network.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrChainUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrChainUnreachable, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if string(rpcResp.Result) == "null" {
		return ErrReceiptNotFound
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}

	return nil
}

// parseHexUint разбирает количественное значение JSON-RPC вида "0x1b4".
func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

type rawReceipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
}

// TransactionReceipt возвращает чек транзакции.
// Для ещё не включённой в блок транзакции возвращается ErrReceiptNotFound.
func (c *Client) TransactionReceipt(ctx context.Context, chainID int64, txHash string) (*Receipt, error) {
	var raw rawReceipt
	if err := c.call(ctx, chainID, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return nil, err
	}

	status, err := parseHexUint(raw.Status)
	if err != nil {
		return nil, err
	}
	blockNumber, err := parseHexUint(raw.BlockNumber)
	if err != nil {
		return nil, err
	}
	gasUsed, err := parseHexUint(raw.GasUsed)
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Status:      status,
		BlockNumber: blockNumber,
		GasUsed:     gasUsed,
	}, nil
}

type rawTransaction struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// TransactionByHash возвращает транзакцию по хэшу.
func (c *Client) TransactionByHash(ctx context.Context, chainID int64, txHash string) (*Transaction, error) {
	var raw rawTransaction
	if err := c.call(ctx, chainID, "eth_getTransactionByHash", []any{txHash}, &raw); err != nil {
		return nil, err
	}

	return &Transaction{
		From:  strings.ToLower(raw.From),
		To:    strings.ToLower(raw.To),
		Value: raw.Value,
	}, nil
}

// BlockNumber возвращает номер последнего блока сети.
func (c *Client) BlockNumber(ctx context.Context, chainID int64) (uint64, error) {
	var raw string
	if err := c.call(ctx, chainID, "eth_blockNumber", []any{}, &raw); err != nil {
		return 0, err
	}
	return parseHexUint(raw)
}

// GasPrice возвращает текущую цену газа сети в wei.
func (c *Client) GasPrice(ctx context.Context, chainID int64) (uint64, error) {
	var raw string
	if err := c.call(ctx, chainID, "eth_gasPrice", []any{}, &raw); err != nil {
		return 0, err
	}
	return parseHexUint(raw)
}
