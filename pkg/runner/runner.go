package runner

import (
	"bytes"
	"context"
	"os"
	"runtime/debug"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

type Drainer interface {
	Drain() error
}

// Version reports the module version baked into the binary, or "dev"
// when built outside a module-aware build.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func PrintBanner() {
	tpl := "{{ .Title \"CENTRALITA\" \"\" 0 }}\nVersion: " + Version() + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
