package acquire

import (
	"fmt"
	"os/exec"
	"time"
)

// startXvfb launches the virtual display used by ModeHeadful.
func (s *Session) startXvfb() error {
	if s.xvfb != nil {
		return nil
	}
	geometry := fmt.Sprintf("%dx%dx24", s.cfg.ViewportWidth, s.cfg.ViewportHeight)
	cmd := exec.Command("Xvfb", s.cfg.XvfbDisplay, "-screen", "0", geometry, "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	s.xvfb = cmd
	time.Sleep(500 * time.Millisecond)
	s.log.Info("acquire: xvfb started", "display", s.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (s *Session) stopXvfb() {
	if s.xvfb == nil {
		return
	}
	if s.xvfb.Process != nil {
		s.xvfb.Process.Kill()
		s.xvfb.Wait()
	}
	s.xvfb = nil
}
