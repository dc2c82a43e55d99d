// Package script runs npc and portal scripts on gopher-lua. Scripts
// are compiled once at startup; each conversation gets a fresh state
// on its own goroutine and blocks in say/ask until the client answers.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

// Manager holds every compiled script, keyed by name without the
// .lua extension.
type Manager struct {
	log    *zap.Logger
	protos map[string]*lua.FunctionProto
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		log:    log,
		protos: make(map[string]*lua.FunctionProto),
	}
}

// LoadDir compiles every .lua file under dir. A script that fails to
// compile is a startup error.
func (m *Manager) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read script dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read script %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".lua")
		if err := m.LoadSource(name, string(raw)); err != nil {
			return err
		}
	}
	m.log.Info("scripts compiled", zap.Int("count", len(m.protos)))
	return nil
}

// LoadSource compiles one script from a string.
func (m *Manager) LoadSource(name, source string) error {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return fmt.Errorf("parse script %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return fmt.Errorf("compile script %s: %w", name, err)
	}
	m.protos[name] = proto
	return nil
}

// Has reports whether a script with the given name exists.
func (m *Manager) Has(name string) bool {
	_, ok := m.protos[name]
	return ok
}

func (m *Manager) Count() int {
	return len(m.protos)
}
