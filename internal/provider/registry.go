package provider

import (
	"fmt"
	"sort"
	"sync"
)

type registryKey struct {
	modality Modality
	name     string
}

// Registry maps (modality, name) to a provider instance. It is populated at
// startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]Provider
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]Provider)}
}

// Register stores p under (m, name), replacing any previous entry. It fails
// only when p does not implement the contract of m.
func (r *Registry) Register(m Modality, name string, p Provider) error {
	if err := checkModality(m, p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey{modality: m, name: name}] = p
	return nil
}

func checkModality(m Modality, p Provider) error {
	var ok bool
	switch m {
	case ModalitySTT:
		_, ok = p.(STTProvider)
	case ModalityLLM:
		_, ok = p.(LLMProvider)
	case ModalityTTS:
		_, ok = p.(TTSProvider)
	default:
		return fmt.Errorf("unknown modality %q", m)
	}
	if !ok {
		return fmt.Errorf("%T does not implement the %s contract", p, m)
	}
	return nil
}

func (r *Registry) Resolve(m Modality, name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[registryKey{modality: m, name: name}]
	return p, ok
}

// ResolveFirst returns the first registered provider among names, in order.
func (r *Registry) ResolveFirst(m Modality, names ...string) (Provider, string, bool) {
	for _, name := range names {
		if p, ok := r.Resolve(m, name); ok {
			return p, name, true
		}
	}
	return nil, "", false
}

func (r *Registry) STT(names ...string) (STTProvider, bool) {
	p, _, ok := r.ResolveFirst(ModalitySTT, names...)
	if !ok {
		return nil, false
	}
	return p.(STTProvider), true
}

func (r *Registry) LLM(names ...string) (LLMProvider, bool) {
	p, _, ok := r.ResolveFirst(ModalityLLM, names...)
	if !ok {
		return nil, false
	}
	return p.(LLMProvider), true
}

func (r *Registry) TTS(names ...string) (TTSProvider, bool) {
	p, _, ok := r.ResolveFirst(ModalityTTS, names...)
	if !ok {
		return nil, false
	}
	return p.(TTSProvider), true
}

// List returns the Info of every provider registered for m, sorted by name.
func (r *Registry) List(m Modality) []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for k, p := range r.entries {
		if k.modality == m {
			out = append(out, p.Info())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
