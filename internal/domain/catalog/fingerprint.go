package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint is a short digest of everything a save depends on: upgrade
// ids, costs and boosts, and achievement ids, bonuses and rules. Display
// names and descriptions are left out.
func (c *Catalog) Fingerprint() string {
	h := sha256.New()
	for _, u := range c.upgrades {
		fmt.Fprintf(h, "u|%s|%g|%g\n", u.ID, u.Cost, u.Boost)
	}
	for _, a := range c.achievements {
		fmt.Fprintf(h, "a|%s|%g|%s|%g|%t\n", a.ID, a.Bonus, a.Rule.Metric, a.Rule.AtLeast, a.Condition != nil)
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}

// IsBuiltin reports whether c has the same content as Default. Revision
// is not compared.
func (c *Catalog) IsBuiltin() bool {
	return c.Fingerprint() == builtinFingerprint
}

var builtinFingerprint = Default().Fingerprint()
