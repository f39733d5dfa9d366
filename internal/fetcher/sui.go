package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

const (
	// DefaultSuiRPCURL is the public Sui mainnet full node.
	DefaultSuiRPCURL = "https://fullnode.mainnet.sui.io/"

	multiGetObjectsMethod = "sui_multiGetObjects"
	sqrtPriceField        = "sqrt_price"
)

// SuiOptions parameterise the Sui JSON-RPC source.
type SuiOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// SuiRPC reads pool objects through the Sui JSON-RPC API.
type SuiRPC struct {
	opts      SuiOptions
	logger    zerolog.Logger
	client    *rpc.Client
	clientMux sync.Mutex
}

// NewSuiRPC builds a Sui pool price source.
func NewSuiRPC(opts SuiOptions, logger zerolog.Logger) *SuiRPC {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.RPCURL) == "" {
		opts.RPCURL = DefaultSuiRPCURL
	}
	return &SuiRPC{opts: opts, logger: logger.With().Str("component", "sui_fetcher").Logger()}
}

// FetchSqrtPrice returns the sqrt_price field of the pool object.
func (s *SuiRPC) FetchSqrtPrice(ctx context.Context, poolID string) (string, error) {
	if strings.TrimSpace(poolID) == "" {
		return "", fmt.Errorf("%w: empty pool id", ErrFetch)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %v", ErrFetch, s.opts.RPCURL, err)
	}

	var result json.RawMessage
	options := map[string]bool{"showType": true, "showContent": true}
	if err := client.CallContext(ctx, &result, multiGetObjectsMethod, []string{poolID}, options); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s timed out after %s", ErrFetch, poolID, s.opts.Timeout)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, poolID, err)
	}

	fields, err := extractFields(result)
	if err != nil {
		s.logger.Debug().Str("pool", poolID).RawJSON("result", result).Msg("unexpected rpc payload")
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, poolID, err)
	}

	raw, err := sqrtPrice(fields)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, poolID, err)
	}
	return raw, nil
}

// Close releases the underlying RPC connection.
func (s *SuiRPC) Close() {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

func (s *SuiRPC) getClient(ctx context.Context) (*rpc.Client, error) {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	client, err := rpc.DialOptions(ctx, s.opts.RPCURL, rpc.WithHTTPClient(&http.Client{Timeout: s.opts.Timeout}))
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

type suiObjectResponse struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Content  *struct {
			DataType string                     `json:"dataType"`
			Fields   map[string]json.RawMessage `json:"fields"`
		} `json:"content"`
	} `json:"data"`
	Error json.RawMessage `json:"error"`
}

// extractFields accepts both the plain array result and the {"data": [...]}
// wrapper some nodes return.
func extractFields(result json.RawMessage) (map[string]json.RawMessage, error) {
	var objects []suiObjectResponse
	if err := json.Unmarshal(result, &objects); err != nil {
		var wrapped struct {
			Data []suiObjectResponse `json:"data"`
		}
		if err := json.Unmarshal(result, &wrapped); err != nil {
			return nil, fmt.Errorf("decode objects: %w", err)
		}
		objects = wrapped.Data
	}

	if len(objects) == 0 {
		return nil, errors.New("no object returned")
	}
	obj := objects[0]
	if obj.Data == nil || obj.Data.Content == nil || obj.Data.Content.Fields == nil {
		if len(obj.Error) > 0 {
			return nil, fmt.Errorf("object error: %s", string(obj.Error))
		}
		return nil, errors.New("object has no content.fields")
	}
	return obj.Data.Content.Fields, nil
}

func sqrtPrice(fields map[string]json.RawMessage) (string, error) {
	raw, ok := fields[sqrtPriceField]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("pool has no sqrt_price")
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.TrimSpace(str) == "" {
			return "", errors.New("pool has empty sqrt_price")
		}
		return str, nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("sqrt_price is neither string nor number: %s", string(raw))
	}
	return num.String(), nil
}

var _ SqrtPriceSource = (*SuiRPC)(nil)
