// Package hydrate decodes the map produced by a GetMany binding spec into a
// typed struct.
package hydrate

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Context identifies where a payload was read from.
type Context struct {
	Scope string
	Props []string
}

// PreHook lets callers mutate or normalise the payload before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook lets callers adjust or validate the hydrated struct after decoding.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the default mapstructure decoding when provided.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts payloads into strongly typed structs.
type Decoder[T any] struct {
	preHooks  []PreHook
	postHooks []PostHook[T]
	configure []func(*mapstructure.DecoderConfig)
	custom    CustomDecoder[T]
}

// WithPreHook applies hook prior to decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithWeaklyTypedInput lets strings decode into numbers and booleans and the
// other conversions mapstructure allows in weak mode.
func WithWeaklyTypedInput[T any]() DecoderOption[T] {
	return WithDecoderConfig[T](func(cfg *mapstructure.DecoderConfig) {
		cfg.WeaklyTypedInput = true
	})
}

// WithDisallowUnknownFields fails when the payload has keys the struct lacks.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return WithDecoderConfig[T](func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	})
}

// WithTagName selects the struct tag used for field names. Defaults to json.
func WithTagName[T any](tag string) DecoderOption[T] {
	return WithDecoderConfig[T](func(cfg *mapstructure.DecoderConfig) {
		cfg.TagName = tag
	})
}

// WithDecodeHook composes hook after any hook already configured.
func WithDecodeHook[T any](hook mapstructure.DecodeHookFunc) DecoderOption[T] {
	return WithDecoderConfig[T](func(cfg *mapstructure.DecoderConfig) {
		if cfg.DecodeHook == nil {
			cfg.DecodeHook = hook
			return
		}
		cfg.DecodeHook = mapstructure.ComposeDecodeHookFunc(cfg.DecodeHook, hook)
	})
}

// WithDecoderConfig allows callers to configure mapstructure directly.
func WithDecoderConfig[T any](configure func(*mapstructure.DecoderConfig)) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if configure != nil {
			d.configure = append(d.configure, configure)
		}
	}
}

// WithCustomDecoder replaces the default decoding path.
func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T applying configured hooks. The payload map
// itself is never modified.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T

	if payload == nil {
		return zero, fmt.Errorf("hydrate: payload is nil for scope %q", ctx.Scope)
	}

	current := clonePayload(payload)
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: pre-hook for scope %q failed: %w", ctx.Scope, err)
		}
		if next != nil {
			current = next
		}
	}

	var result T
	if d.custom != nil {
		decoded, err := d.custom(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: custom decoder for scope %q failed: %w", ctx.Scope, err)
		}
		result = decoded
	} else {
		cfg := &mapstructure.DecoderConfig{
			Result:  &result,
			TagName: "json",
		}
		for _, configure := range d.configure {
			configure(cfg)
		}
		decoder, err := mapstructure.NewDecoder(cfg)
		if err != nil {
			return zero, fmt.Errorf("hydrate: configure decoder for scope %q: %w", ctx.Scope, err)
		}
		if err := decoder.Decode(current); err != nil {
			return zero, fmt.Errorf("hydrate: decode scope %q: %w", ctx.Scope, err)
		}
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for scope %q failed: %w", ctx.Scope, err)
		}
	}

	return result, nil
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	return out
}
