package ebpf

import (
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/kernel"
)

// pinnedMap is an interpreter.Map over a *ebpf.Map loaded from bpffs.
type pinnedMap struct {
	m    *ebpf.Map
	info kernel.Map
}

func (p *pinnedMap) Info() kernel.Map { return p.info }

func (p *pinnedMap) Close() error { return p.m.Close() }

func (p *pinnedMap) checkKey(op string, key []byte) error {
	if uint32(len(key)) != p.info.KeySize {
		return fmt.Errorf("map %s: %s: key is %d bytes, want %d: %w", p.info.Name, op, len(key), p.info.KeySize, psabpf.ErrInvalidArgument)
	}
	return nil
}

func (p *pinnedMap) Lookup(key []byte) ([]byte, error) {
	if err := p.checkKey("lookup", key); err != nil {
		return nil, err
	}
	value, err := p.m.LookupBytes(key)
	if err != nil {
		return nil, translate("lookup", p.info.Name, err)
	}
	if value == nil {
		return nil, translate("lookup", p.info.Name, ebpf.ErrKeyNotExist)
	}
	return value, nil
}

func (p *pinnedMap) Update(key, value []byte, flags interpreter.UpdateFlags) error {
	if err := p.checkKey("update", key); err != nil {
		return err
	}
	if uint32(len(value)) != p.info.ValueSize {
		return fmt.Errorf("map %s: update: value is %d bytes, want %d: %w", p.info.Name, len(value), p.info.ValueSize, psabpf.ErrInvalidArgument)
	}

	var kflags ebpf.MapUpdateFlags
	switch flags {
	case interpreter.UpdateNoExist:
		kflags = ebpf.UpdateNoExist
	case interpreter.UpdateExist:
		kflags = ebpf.UpdateExist
	default:
		kflags = ebpf.UpdateAny
	}
	return translate("update", p.info.Name, p.m.Update(key, value, kflags))
}

func (p *pinnedMap) Delete(key []byte) error {
	if err := p.checkKey("delete", key); err != nil {
		return err
	}
	return translate("delete", p.info.Name, p.m.Delete(key))
}

func (p *pinnedMap) NextKey(key []byte) ([]byte, bool, error) {
	var prev any
	if key != nil {
		if err := p.checkKey("next key", key); err != nil {
			return nil, false, err
		}
		prev = key
	}
	next, err := p.m.NextKeyBytes(prev)
	if err != nil {
		return nil, false, translate("next key", p.info.Name, err)
	}
	if next == nil {
		return nil, false, nil
	}
	return next, true, nil
}
