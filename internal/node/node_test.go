// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succinct-tracker/succinct/database/plugin"
	"github.com/succinct-tracker/succinct/internal/config"
	"github.com/succinct-tracker/succinct/internal/test/testutil"
)

func freePort(t *testing.T) uint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return uint(port)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	// In-memory sqlite
	require.NoError(t, plugin.SetPluginOption("sqlite", "data-dir", ""))
	return &config.Config{
		BindAddr:        "127.0.0.1",
		WsPort:          freePort(t),
		MetricsPort:     freePort(t),
		JSONDir:         t.TempDir(),
		SpoolDir:        t.TempDir(),
		DecodeDir:       t.TempDir(),
		AuthTimeout:     time.Second,
		PushDelay:       time.Millisecond,
		MaxChatBytes:    160,
		PageSize:        20,
		DatabasePlugin:  "sqlite",
		ShutdownTimeout: 5 * time.Second,
		AuthSecret:      "s3cret",
	}
}

func TestRunGracefulShutdown(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logger, prometheus.NewRegistry())
	}()

	var ws *websocket.Conn
	testutil.WaitForCondition(t, func() bool {
		conn, resp, err := websocket.DefaultDialer.Dial(
			"ws://"+cfg.ListenAddress()+"/ws",
			nil,
		)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		ws = conn
		return true
	}, 5*time.Second, "websocket listener up")
	defer ws.Close()

	testutil.WaitForCondition(t, func() bool {
		resp, err := http.Get(
			"http://127.0.0.1:" + strconv.FormatUint(uint64(cfg.MetricsPort), 10) + "/metrics",
		)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, "metrics listener up")

	cancel()
	err := testutil.RequireReceive(t, errCh, 10*time.Second, "run returned")
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.JSONDir = ""
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	err := run(context.Background(), cfg, logger, prometheus.NewRegistry())
	require.ErrorContains(t, err, "invalid configuration")
}

func TestRedacted(t *testing.T) {
	cfg := testConfig(t)
	out := redacted(cfg)
	assert.Equal(t, "<redacted>", out.AuthSecret)
	assert.Equal(t, "s3cret", cfg.AuthSecret)
}
