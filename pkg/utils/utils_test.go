package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quest_tally/pkg/config"
)

func fastRetry() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("SuccessfulOperation", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			if attempts < 2 {
				return errors.New("temporary error")
			}
			return nil
		}

		err := RetryWithBackoff(context.Background(), operation, fastRetry())
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("MaxAttemptsExceeded", func(t *testing.T) {
		attempts := 0
		cause := errors.New("persistent error")
		operation := func() error {
			attempts++
			return cause
		}

		err := RetryWithBackoff(context.Background(), operation, fastRetry())
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, fastRetry().MaxAttempts, attempts)
	})

	t.Run("PermanentError", func(t *testing.T) {
		attempts := 0
		operation := func() error {
			attempts++
			return fmt.Errorf("bad export: %w", ErrPermanent)
		}

		err := RetryWithBackoff(context.Background(), operation, fastRetry())
		assert.ErrorIs(t, err, ErrPermanent)
		assert.Equal(t, 1, attempts)
	})

	t.Run("RetryableErrorList", func(t *testing.T) {
		retryable := errors.New("busy")
		cfg := fastRetry()
		cfg.RetryableErrors = []error{retryable}

		attempts := 0
		err := RetryWithBackoff(context.Background(), func() error {
			attempts++
			return errors.New("other")
		}, cfg)
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		operation := func() error {
			attempts++
			cancel()
			return errors.New("error")
		}

		err := RetryWithBackoff(ctx, operation, fastRetry())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, addJitter(base, 0))
	for i := 0; i < 20; i++ {
		d := addJitter(base, 0.5)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "result.txt")
	data := []byte("test data")

	require.NoError(t, WriteFileAtomic(filename, data, 0644))

	readData, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, data, readData)

	_, err = os.Stat(filename + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNewLogger(t *testing.T) {
	cfg := config.LogConfig{
		OutputPath: filepath.Join(t.TempDir(), "logs", "tally.log"),
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}
	level := zap.NewAtomicLevelAt(zap.InfoLevel)

	logger, err := NewLogger(cfg, level, false)
	require.NoError(t, err)
	logger.Debug("hidden detail")
	logger.Info("tally complete", zap.String("quest", "q1"))

	level.SetLevel(zap.DebugLevel)
	logger.Debug("raised detail")
	_ = logger.Sync()

	content, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"tally complete"`)
	assert.Contains(t, string(content), `"quest":"q1"`)
	assert.Contains(t, string(content), "raised detail")
	assert.NotContains(t, string(content), "hidden detail")

	_, err = NewLogger(config.LogConfig{}, level, false)
	assert.ErrorIs(t, err, ErrNoLogOutput)
}

func TestSafeGo(t *testing.T) {
	logger := zap.NewExample()

	t.Run("NormalExecution", func(t *testing.T) {
		executed := make(chan bool)
		SafeGo(logger, func() {
			executed <- true
		})
		assert.True(t, <-executed)
	})

	t.Run("PanicRecovery", func(t *testing.T) {
		recovered := make(chan bool)
		SafeGo(logger, func() {
			defer func() {
				recovered <- true
			}()
			panic("test panic")
		})
		assert.True(t, <-recovered)
	})
}
