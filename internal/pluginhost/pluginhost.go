// Package pluginhost loads converter plug-ins from shared objects at
// runtime, the Go-native analog of spec §6.4's PluginInit/PluginFini
// contract. The original engine loads plug-ins as DLLs exporting two C
// symbols; Go has no portable dynamic-library ABI, but the standard
// library's plugin package gives the same shape on the platforms that
// support it (Linux, the only target here), so that is what this repo
// uses rather than inventing a fake loader. No third-party library in the
// example pack replaces this — dynamic symbol loading from a .so is a
// runtime/linker concern, not an ecosystem one.
package pluginhost

import (
	"fmt"
	"plugin"

	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/converter"
)

// Registrar is the narrow surface a plug-in's PluginInit call is allowed
// to use: registering converters and conversion rules, matching spec
// §6.4's "registers conversion rules, converters and resource callbacks."
// *compiler.Compiler satisfies this directly.
type Registrar interface {
	RegisterConverter(info converter.Info) error
	RegisterConversionRule(r compiler.Rule)
}

// Host tracks every plug-in opened through Load so Close can call each
// one's PluginFini symbol in reverse load order.
type Host struct {
	paths []string
	fini  []func()
}

// New returns an empty Host.
func New() *Host { return &Host{} }

// Load opens the shared object at path and calls its exported PluginInit
// function, passing reg. PluginInit must have the signature
// `func(pluginhost.Registrar) bool`; a plug-in that exports no such
// symbol, or whose PluginInit returns false, is an error. If the plug-in
// also exports PluginFini (`func()`), Close will call it later.
func (h *Host) Load(path string, reg Registrar) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("pluginhost: opening %s: %w", path, err)
	}

	initSym, err := p.Lookup("PluginInit")
	if err != nil {
		return fmt.Errorf("pluginhost: %s exports no PluginInit: %w", path, err)
	}
	initFn, ok := initSym.(func(Registrar) bool)
	if !ok {
		return fmt.Errorf("pluginhost: %s PluginInit has the wrong signature", path)
	}
	if ok := initFn(reg); !ok {
		return fmt.Errorf("pluginhost: %s PluginInit returned false", path)
	}

	if finiSym, err := p.Lookup("PluginFini"); err == nil {
		if finiFn, ok := finiSym.(func()); ok {
			h.fini = append(h.fini, finiFn)
		}
	}
	h.paths = append(h.paths, path)
	return nil
}

// Loaded returns the paths successfully loaded so far, in load order.
func (h *Host) Loaded() []string { return h.paths }

// Close calls every loaded plug-in's PluginFini, most-recently-loaded
// first.
func (h *Host) Close() {
	for i := len(h.fini) - 1; i >= 0; i-- {
		h.fini[i]()
	}
	h.fini = nil
}
