package log

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 未调用 Init 时所有日志函数都必须可用（no-op），库代码在接线前
// 打日志不允许崩溃。此用例必须排在任何调用 Init 的用例之前。
func TestLoggingBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Debugf("debug %d", 1)
		Info("info")
		Infof("info %s", "x")
		Infow("infow", "key", "value")
		Warnf("warn %v", nil)
		Error("error", os.ErrNotExist)
		Errorf("errorf %s", "x")
		Sync()
	})
}

func TestInitStdoutOnlyCreatesNoDirectory(t *testing.T) {
	Init("info", "json", "stdout")
	Infof("写往 stdout 的日志")

	// "stdout" 不是目录名，不能在工作目录里落下同名目录
	_, err := os.Stat("stdout")
	assert.True(t, os.IsNotExist(err))
}

func TestInitFallsBackToInfoOnBadLevel(t *testing.T) {
	require.NotPanics(t, func() {
		Init("not-a-level", "console", "")
	})
	Infof("级别非法时退回 info")
}
