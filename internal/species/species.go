// Package species holds the static reference table of known mushroom species.
// The table is compiled in and read-only; callers receive copies.
package species

import (
	"fmt"

	"github.com/example/mushroom-check/internal/analysis"
)

// Record describes one known species.
type Record struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Lifespan     string `json:"lifespan"`
	Preservation string `json:"preservation"`
}

// Order matches the class indices of the species model.
var table = [...]Record{
	{
		ID:           "Apioperdon_pyriforme",
		DisplayName:  "Apioperdon pyriforme",
		Lifespan:     "Room temp. 12hours after harvest. The mushroom is edible when its interior is completely white.",
		Preservation: "refrigerated 3-5 days.",
	},
	{
		ID:           "Cerioporus_squamosus",
		DisplayName:  "Cerioporus squamosus",
		Lifespan:     "4hours room temp after harvest",
		Preservation: "1 week refrigerated. Can be frozen after cooking.",
	},
	{
		ID:           "Coprinellus_micaceus",
		DisplayName:  "Coprinellus micaceus",
		Lifespan:     "1-2 days room temp after harvest",
		Preservation: "refrigerated 3-5 days.",
	},
	{
		ID:           "Coprinus_comatus",
		DisplayName:  "Coprinus comatus",
		Lifespan:     "24 hours (dissolves quickly)",
		Preservation: "10 days refrigerated, 18 days with treatment.",
	},
}

// Count is the number of known species.
const Count = len(table)

// Lookup maps a model class index to its record. Unknown indices yield a
// placeholder label with Unknown advisory text and ok == false.
func Lookup(index int) (Record, bool) {
	if index < 0 || index >= len(table) {
		label := fmt.Sprintf("Unknown Species %d", index)
		return Record{
			ID:           label,
			DisplayName:  label,
			Lifespan:     analysis.Unknown,
			Preservation: analysis.Unknown,
		}, false
	}
	return table[index], true
}

// ByID finds a record by its identifier.
func ByID(id string) (Record, bool) {
	for _, r := range table {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// IDs lists the known identifiers in class-index order.
func IDs() []string {
	ids := make([]string, len(table))
	for i, r := range table {
		ids[i] = r.ID
	}
	return ids
}

// Apply copies the species fields of rec into r.
func Apply(r *analysis.Result, rec Record, confidence float64) {
	r.Species = rec.ID
	r.SpeciesConfidence = confidence
	r.Lifespan = rec.Lifespan
	r.Preservation = rec.Preservation
}
