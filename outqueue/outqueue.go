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

// Package outqueue relays operator messages to the field through the
// message encoding and dispatch binaries in the decode directory.
package outqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	msgwriteBin     = "msgwrite"
	queueMessageBin = "queue_message"
	sendRockBin     = "send_rock"
)

type OutQueueConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	// SpoolDir is passed to the dispatch binaries
	SpoolDir string
	// DecodeDir holds the binaries and is their working directory
	DecodeDir string
}

type OutQueue struct {
	logger    *slog.Logger
	spoolDir  string
	decodeDir string
	metrics   struct {
		dispatched *prometheus.CounterVec
		failed     *prometheus.CounterVec
	}
}

func NewOutQueue(cfg OutQueueConfig) (*OutQueue, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	decodeDir, err := filepath.Abs(cfg.DecodeDir)
	if err != nil {
		return nil, fmt.Errorf("resolve decode directory: %w", err)
	}
	o := &OutQueue{
		logger:    cfg.Logger.With("component", "outqueue"),
		spoolDir:  cfg.SpoolDir,
		decodeDir: decodeDir,
	}
	promautoFactory := promauto.With(cfg.PromRegistry)
	o.metrics.dispatched = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "succinct_outqueue_dispatched_total",
			Help: "total outbound messages dispatched, by kind",
		},
		[]string{"kind"},
	)
	o.metrics.failed = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "succinct_outqueue_failed_total",
			Help: "total outbound dispatch failures, by kind",
		},
		[]string{"kind"},
	)
	return o, nil
}

func (o *OutQueue) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, filepath.Join(o.decodeDir, name), args...)
	cmd.Dir = o.decodeDir
	return cmd
}

// QueueChat encodes a chat message from the operator and queues it for the
// team. relative is the message time in milliseconds since the team started.
func (o *OutQueue) QueueChat(
	ctx context.Context,
	team string,
	message string,
	relative int64,
) error {
	o.logger.Info("queue chat", "team", team, "relative", relative)
	var writeErr, queueErr bytes.Buffer
	write := o.command(ctx, msgwriteBin, "chat", "0", strconv.FormatInt(relative, 10), message)
	write.Stderr = &writeErr
	queue := o.command(ctx, queueMessageBin, o.spoolDir, team, "/dev/stdin")
	queue.Stderr = &queueErr
	pipe, err := write.StdoutPipe()
	if err != nil {
		return o.failed("chat", fmt.Errorf("failed to queue message: %w", err), "")
	}
	queue.Stdin = pipe
	if err := write.Start(); err != nil {
		return o.failed("chat", fmt.Errorf("failed to queue message: %w", err), "")
	}
	if err := queue.Start(); err != nil {
		_ = write.Process.Kill()
		_ = write.Wait()
		return o.failed("chat", fmt.Errorf("failed to queue message: %w", err), "")
	}
	err = errors.Join(queue.Wait(), write.Wait())
	if err != nil {
		return o.failed(
			"chat",
			fmt.Errorf("failed to queue message: %w", err),
			strings.TrimSpace(writeErr.String()+"\n"+queueErr.String()),
		)
	}
	o.metrics.dispatched.WithLabelValues("chat").Inc()
	return nil
}

// SendRock sends the team's queued messages through a satellite device.
// An empty device id is a no-op.
func (o *OutQueue) SendRock(ctx context.Context, team string, rockID string) error {
	o.logger.Info("send rock", "team", team, "rock", rockID)
	if rockID == "" {
		return nil
	}
	var stderr bytes.Buffer
	cmd := o.command(ctx, sendRockBin, o.spoolDir, team, rockID)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return o.failed(
			"rock",
			fmt.Errorf("failed to send via rock: %w", err),
			strings.TrimSpace(stderr.String()),
		)
	}
	o.metrics.dispatched.WithLabelValues("rock").Inc()
	return nil
}

func (o *OutQueue) failed(kind string, err error, stderr string) error {
	o.metrics.failed.WithLabelValues(kind).Inc()
	o.logger.Warn(err.Error(), "stderr", stderr)
	return err
}
