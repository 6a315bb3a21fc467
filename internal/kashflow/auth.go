package kashflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
)

// TokenType is the Authorization scheme KashFlow expects
const TokenType = "KfToken"

// SessionTokenSource performs the KashFlow two-step session login and
// caches the resulting token. It implements oauth2.TokenSource so it can sit
// behind an oauth2.Transport.
type SessionTokenSource struct {
	baseURL       string
	username      string
	password      string
	memorableWord string
	ttl           time.Duration
	timeout       time.Duration
	client        *http.Client
	clock         clock.Clock
	logger        *logrus.Logger

	mu       sync.Mutex
	token    *oauth2.Token
	issuedAt time.Time
}

// NewSessionTokenSource creates a token source. client performs the login
// requests and must not itself add an Authorization header.
func NewSessionTokenSource(cfg *config.KashFlowConfig, client *http.Client, clk clock.Clock, logger *logrus.Logger) *SessionTokenSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &SessionTokenSource{
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/"),
		username:      cfg.Username,
		password:      cfg.Password,
		memorableWord: cfg.MemorableWord,
		ttl:           ttl,
		timeout:       cfg.Timeout,
		client:        client,
		clock:         clk,
		logger:        logger,
	}
}

// Token returns the cached session token, logging in again once it is
// older than the TTL or after Invalidate.
func (s *SessionTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.token != nil && now.Sub(s.issuedAt) < s.ttl {
		return s.token, nil
	}

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*s.timeout)
		defer cancel()
	}

	session, err := s.login(ctx)
	if err != nil {
		return nil, err
	}

	s.token = &oauth2.Token{
		AccessToken: session,
		TokenType:   TokenType,
		Expiry:      now.Add(s.ttl),
	}
	s.issuedAt = now
	s.logger.Info("Obtained KashFlow session token")
	return s.token, nil
}

// Invalidate drops the cached token so the next request logs in again
func (s *SessionTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

type memorableChar struct {
	Position int    `json:"Position"`
	Value    string `json:"Value"`
}

func (s *SessionTokenSource) login(ctx context.Context) (string, error) {
	var temp struct {
		TemporaryToken    string `json:"TemporaryToken"`
		MemorableWordList []any  `json:"MemorableWordList"`
	}
	err := s.call(ctx, http.MethodPost, map[string]string{
		"username": s.username,
		"password": s.password,
	}, &temp)
	if err != nil {
		return "", err
	}

	positions := parsePositions(temp.MemorableWordList)
	if temp.TemporaryToken == "" || len(positions) == 0 {
		return "", errors.NewFetchError(errors.KindFatal, "session token",
			fmt.Errorf("unexpected session token response"))
	}

	chars, err := memorableChars(s.memorableWord, positions)
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{
		"positions": positions,
		"mw_length": len([]rune(s.memorableWord)),
	}).Info("KashFlow requested memorable word positions")

	var session struct {
		SessionToken string `json:"SessionToken"`
	}
	err = s.call(ctx, http.MethodPut, map[string]any{
		"TemporaryToken":    temp.TemporaryToken,
		"MemorableWordList": chars,
	}, &session)
	if err != nil {
		return "", err
	}
	if session.SessionToken == "" {
		return "", errors.NewFetchError(errors.KindFatal, "session token",
			fmt.Errorf("empty session token"))
	}
	return session.SessionToken, nil
}

func (s *SessionTokenSource) call(ctx context.Context, method string, payload, dst any) error {
	op := method + " /sessiontoken"

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewFetchError(errors.KindFatal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/sessiontoken", bytes.NewReader(body))
	if err != nil {
		return errors.NewFetchError(errors.KindFatal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewFetchError(errors.KindRetriable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewFetchError(errors.KindRetriable, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.WithField("status", resp.StatusCode).Error("KashFlow session token request failed")
		return errors.NewFetchError(classifyStatus(resp.StatusCode), op, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)})
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return errors.NewFetchError(errors.KindFatal, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// parsePositions accepts plain numbers or objects carrying a position field.
func parsePositions(list []any) []int {
	var out []int
	for _, entry := range list {
		var v any = entry
		if m, ok := entry.(map[string]any); ok {
			v = nil
			for _, k := range []string{"Position", "position", "pos"} {
				if p, ok := m[k]; ok {
					v = p
					break
				}
			}
		}
		if n, ok := v.(float64); ok && n == float64(int(n)) {
			out = append(out, int(n))
		}
	}
	return out
}

func memorableChars(word string, positions []int) ([]memorableChar, error) {
	runes := []rune(word)
	out := make([]memorableChar, 0, len(positions))
	for _, pos := range positions {
		if pos < 1 || pos > len(runes) {
			return nil, errors.NewValidationError(
				fmt.Sprintf("memorable word position out of range: %d (word length %d)", pos, len(runes)), nil)
		}
		out = append(out, memorableChar{Position: pos, Value: string(runes[pos-1])})
	}
	return out, nil
}
