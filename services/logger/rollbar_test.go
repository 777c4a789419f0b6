package logsvc

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/session"
)

func TestRollbarLogger(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		log   func(l *RollbarLogger)
		want  string
	}{
		{
			name: "debug hidden outside debug mode",
			log:  func(l *RollbarLogger) { l.Debug("realtime: connected") },
		},
		{
			name:  "debug shown in debug mode",
			debug: true,
			log:   func(l *RollbarLogger) { l.Debug("realtime: connected") },
			want:  "realtime: connected\n",
		},
		{
			name: "user args are not printed",
			log: func(l *RollbarLogger) {
				l.Info("auth: logged in", session.User{ID: "1", Name: "Jane"})
			},
			want: "auth: logged in\n",
		},
		{
			name: "errors are printed",
			log:  func(l *RollbarLogger) { l.Warn("auth: refresh failed", errors.New("boom")) },
			want: "auth: refresh failed\nboom\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST", Debug: tt.debug})
			tt.log(l)
			if tt.want == "" {
				assert.Empty(t, buf.String())
				return
			}
			// %+v adds the stack trace after wrapped errors
			assert.True(t, strings.HasPrefix(buf.String(), tt.want), "got %q", buf.String())
		})
	}
}

func TestRollbarLogger_levelFloorAppliesToRollbar(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  []level
	}{
		{name: "production", want: []level{levelInfo, levelWarn, levelError}},
		{name: "debug", debug: true, want: []level{levelDebug, levelInfo, levelWarn, levelError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST", Debug: tt.debug})
			var sent []level
			l.report = func(lvl level, args ...interface{}) { sent = append(sent, lvl) }

			l.Debug("realtime: dial failed", errors.New("refused"))
			l.Info("auth: logged in")
			l.Warn("auth: server logout failed")
			l.Error("session: saving snapshot failed")

			assert.Equal(t, tt.want, sent)
		})
	}
}
