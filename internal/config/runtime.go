package config

import "sync/atomic"

// Runtime holds process-wide settings that operators may change while the bot runs.
// It is built once from the loaded Config and lives until shutdown.
type Runtime struct {
	captchaEnabled atomic.Bool
}

func NewRuntime(cfg Config) *Runtime {
	r := &Runtime{}
	r.captchaEnabled.Store(cfg.Captcha.Enabled)
	return r
}

func (r *Runtime) CaptchaEnabled() bool {
	return r.captchaEnabled.Load()
}

// SetCaptchaEnabled returns the previous value.
func (r *Runtime) SetCaptchaEnabled(enabled bool) bool {
	return r.captchaEnabled.Swap(enabled)
}
