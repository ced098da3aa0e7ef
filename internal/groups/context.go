package groups

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/crypto"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// Context owns the bounded caches shared by the group pipeline. One is
// created per process and passed to whatever needs it.
type Context struct {
	names      *lru.Cache[string, string]
	signatures *lru.Cache[string, struct{}]
}

// NewContext sizes the caches from `name_cache_size` and `signature_cache_size`
func NewContext(cm *utils.ConfigManager) *Context {
	names, _ := lru.New[string, string](cm.GetConfigInt("name_cache_size", 256, 1, 1<<20))
	signatures, _ := lru.New[string, struct{}](cm.GetConfigInt("signature_cache_size", 1024, 1, 1<<20))
	return &Context{names: names, signatures: signatures}
}

// DisplayName returns the profile name of id, falling back to first4...last4
func (c *Context) DisplayName(tx *database.Tx, id string) string {
	return c.DisplayNames(tx, []string{id})[0]
}

// DisplayNames resolves several ids with one query for the cache misses
func (c *Context) DisplayNames(tx *database.Tx, ids []string) []string {
	result := make([]string, len(ids))

	var missing []string
	for i, id := range ids {
		if name, ok := c.names.Get(id); ok {
			result[i] = name
		} else {
			missing = append(missing, id)
		}
	}

	var found map[string]string
	if len(missing) > 0 {
		// A failed lookup only costs the nicer name
		found, _ = tx.ProfileNames(missing)
	}

	for i, id := range ids {
		if result[i] != "" {
			continue
		}
		if name, ok := found[id]; ok {
			c.names.Add(id, name)
			result[i] = name
			continue
		}
		result[i] = crypto.Truncated(id)
	}
	return result
}

// ForgetName drops a cached name after the profile changes
func (c *Context) ForgetName(id string) {
	c.names.Remove(id)
}

func (c *Context) signatureVerified(key string) bool {
	return c.signatures.Contains(key)
}

func (c *Context) rememberSignature(key string) {
	c.signatures.Add(key, struct{}{})
}
