package output

import (
	"fmt"
	"sort"

	"github.com/disiqueira/gotree/v3"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
)

// IndexTree renders an index as archives with their unique asset IDs beneath. With
// archiveIDs given, only those archives are shown.
type IndexTree struct {
	index models.Index
}

func NewIndexTree(index models.Index) IndexTree {
	return IndexTree{index: index}
}

// Render returns the tree, and the requested archive IDs that are not in the index.
func (t IndexTree) Render(archiveIDs ...string) (string, []string) {
	meta := t.index.Metadata
	root := gotree.New(fmt.Sprintf("index (%d archives, %d assets, updated %s)",
		meta.TotalArchives, meta.TotalAssets, meta.LastUpdated.Format("2006-01-02 15:04:05")))

	ids := archiveIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(t.index.Archives))
		for id := range t.index.Archives {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	var missing []string
	for _, id := range ids {
		entry, ok := t.index.Archives[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		node := root.Add(fmt.Sprintf("%s (%s) [%d/%d]", entry.Name, entry.ID, len(entry.Assets), entry.AssetCount))
		for _, uid := range entry.Assets {
			node.Add(uid)
		}
	}
	return root.Print(), missing
}
