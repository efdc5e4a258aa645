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

package outqueue

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinaries installs shell scripts standing in for the dispatch binaries.
// Each records its arguments, and queue_message its stdin, under out.
func fakeBinaries(t *testing.T, failing ...string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	decode := t.TempDir()
	out := t.TempDir()
	scripts := map[string]string{
		msgwriteBin:     `printf '%s|' "$@" > "` + out + `/msgwrite.args"; printf 'encoded:%s' "$4"`,
		queueMessageBin: `printf '%s|' "$@" > "` + out + `/queue_message.args"; cat "$3" > "` + out + `/queue_message.stdin"`,
		sendRockBin:     `printf '%s|' "$@" > "` + out + `/send_rock.args"`,
	}
	for _, name := range failing {
		scripts[name] = `echo "` + name + ` broke" >&2; exit 3`
	}
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(
			filepath.Join(decode, name),
			[]byte("#!/bin/sh\n"+body+"\n"),
			0o755,
		))
	}
	return decode, out
}

func readOut(t *testing.T, dir string, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestQueueChat(t *testing.T) {
	decode, out := fakeBinaries(t)
	o, err := NewOutQueue(OutQueueConfig{SpoolDir: "/var/spool/succinct", DecodeDir: decode})
	require.NoError(t, err)
	require.NoError(t, o.QueueChat(context.Background(), "abc123", "come home; now", 61000))
	assert.Equal(t, "chat|0|61000|come home; now|", readOut(t, out, "msgwrite.args"))
	assert.Equal(t, "/var/spool/succinct|abc123|/dev/stdin|", readOut(t, out, "queue_message.args"))
	assert.Equal(t, "encoded:come home; now", readOut(t, out, "queue_message.stdin"))
}

func TestQueueChatFailure(t *testing.T) {
	for _, bin := range []string{msgwriteBin, queueMessageBin} {
		t.Run(bin, func(t *testing.T) {
			decode, _ := fakeBinaries(t, bin)
			o, err := NewOutQueue(OutQueueConfig{SpoolDir: "spool", DecodeDir: decode})
			require.NoError(t, err)
			err = o.QueueChat(context.Background(), "abc123", "hello", 0)
			require.ErrorContains(t, err, "failed to queue message")
		})
	}
}

func TestSendRock(t *testing.T) {
	decode, out := fakeBinaries(t)
	o, err := NewOutQueue(OutQueueConfig{SpoolDir: "spool", DecodeDir: decode})
	require.NoError(t, err)

	require.NoError(t, o.SendRock(context.Background(), "abc123", ""))
	_, err = os.Stat(filepath.Join(out, "send_rock.args"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, o.SendRock(context.Background(), "abc123", "12345"))
	assert.Equal(t, "spool|abc123|12345|", readOut(t, out, "send_rock.args"))
}

func TestSendRockFailure(t *testing.T) {
	decode, _ := fakeBinaries(t, sendRockBin)
	o, err := NewOutQueue(OutQueueConfig{SpoolDir: "spool", DecodeDir: decode})
	require.NoError(t, err)
	require.ErrorContains(t, o.SendRock(context.Background(), "abc123", "12345"), "failed to send via rock")
}
