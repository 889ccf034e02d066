package memory

import (
	"sort"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
)

func sortBySeq(items []module.Descriptor) {
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
}

func sortByCreated(items []deployment.Deployment) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Domain < items[j].Domain
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
