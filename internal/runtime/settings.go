package runtime

import (
	"context"

	"reverie/internal/plugin"
	"reverie/internal/store"
)

// storeSettings adapts the store's settings table to the capability
// surface. Capabilities never see the store itself.
type storeSettings struct {
	st *store.Store
}

var _ plugin.Settings = storeSettings{}

func (s storeSettings) Get(ctx context.Context, key string) (string, bool, error) {
	return s.st.GetSetting(ctx, key)
}

func (s storeSettings) Set(ctx context.Context, key, value string) error {
	return s.st.SetSetting(ctx, key, value)
}

func (s storeSettings) All(ctx context.Context) (map[string]string, error) {
	return s.st.AllSettings(ctx)
}
