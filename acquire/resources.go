package acquire

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking fails requests of the listed resource types.
// Documents and scripts are never blocked.
func applyResourceBlocking(page *rod.Page, types []string) *rod.HijackRouter {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func shouldBlock(block map[string]bool, t proto.NetworkResourceType) bool {
	switch t {
	case proto.NetworkResourceTypeImage:
		return block["images"]
	case proto.NetworkResourceTypeFont:
		return block["fonts"]
	case proto.NetworkResourceTypeMedia:
		return block["media"]
	case proto.NetworkResourceTypeStylesheet:
		return block["stylesheets"]
	}
	return false
}
