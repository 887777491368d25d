package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/campusflow/internal/tlsutil"
	"go.uber.org/zap"
)

// RemoteGateConfig 远程策略服务配置
type RemoteGateConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type remoteClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func newRemoteClient(cfg RemoteGateConfig, component string, logger *zap.Logger) *remoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &remoteClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger.With(zap.String("component", component)),
	}
}

// post 发送 JSON 请求；网络错误、超时与非 2xx 响应都归为 ErrGateUnavailable
func (c *remoteClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal gate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("policy service request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("policy service returned error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d: %s", ErrGateUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGateUnavailable, err)
	}
	return nil
}

type governanceRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	Context    map[string]any `json:"context,omitempty"`
}

// RemoteGovernanceGate 通过 HTTP 调用外部治理服务（POST {base}/v1/governance/check）
type RemoteGovernanceGate struct {
	c   *remoteClient
	now func() time.Time
}

// NewRemoteGovernanceGate 创建远程治理网关
func NewRemoteGovernanceGate(cfg RemoteGateConfig, logger *zap.Logger) *RemoteGovernanceGate {
	return &RemoteGovernanceGate{c: newRemoteClient(cfg, "remote_governance_gate", logger), now: time.Now}
}

// Check 实现 GovernanceGate
func (g *RemoteGovernanceGate) Check(ctx context.Context, entityType, entityID, action, actorID string, attrs map[string]any) (*PolicyDecision, error) {
	var decision PolicyDecision
	err := g.c.post(ctx, "/v1/governance/check", governanceRequest{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		Context:    attrs,
	}, &decision)
	if err != nil {
		return nil, err
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = g.now()
	}
	if !decision.Allowed && len(decision.ViolatedRules) == 0 && decision.Rule != "" {
		decision.ViolatedRules = []string{decision.Rule}
	}
	return &decision, nil
}

type alignmentRequest struct {
	Content string         `json:"content"`
	Context map[string]any `json:"context,omitempty"`
}

// alignmentResponse 远程服务可只返回 flagged 或 aligned 之一
type alignmentResponse struct {
	Aligned         *bool                 `json:"aligned"`
	Flagged         bool                  `json:"flagged"`
	Scores          map[Dimension]float64 `json:"scores"`
	Issues          []ValidationError     `json:"issues"`
	Recommendations []string              `json:"recommendations"`
}

// RemoteAlignmentGate 通过 HTTP 调用外部对齐服务（POST {base}/v1/alignment/check）
type RemoteAlignmentGate struct {
	c *remoteClient
}

// NewRemoteAlignmentGate 创建远程对齐网关
func NewRemoteAlignmentGate(cfg RemoteGateConfig, logger *zap.Logger) *RemoteAlignmentGate {
	return &RemoteAlignmentGate{c: newRemoteClient(cfg, "remote_alignment_gate", logger)}
}

// Check 实现 AlignmentGate
func (g *RemoteAlignmentGate) Check(ctx context.Context, content string, attrs map[string]any) (*AlignmentResult, error) {
	var resp alignmentResponse
	if err := g.c.post(ctx, "/v1/alignment/check", alignmentRequest{Content: content, Context: attrs}, &resp); err != nil {
		return nil, err
	}

	flagged := resp.Flagged || (resp.Aligned != nil && !*resp.Aligned)
	return &AlignmentResult{
		Checked:         true,
		Aligned:         !flagged,
		Flagged:         flagged,
		Scores:          resp.Scores,
		Issues:          resp.Issues,
		Recommendations: resp.Recommendations,
	}, nil
}

var (
	_ GovernanceGate = (*RemoteGovernanceGate)(nil)
	_ AlignmentGate  = (*RemoteAlignmentGate)(nil)
)
