package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps config names to CDP resource types.
var resourceAliases = map[string]string{
	"images":      "image",
	"fonts":       "font",
	"media":       "media",
	"stylesheets": "stylesheet",
	"scripts":     "script",
	"trackers":    "ping",
}

// blockSet normalises configured resource names to lower-case CDP types.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if alias, ok := resourceAliases[t]; ok {
			t = alias
		}
		if t != "" {
			set[t] = true
		}
	}
	return set
}

// applyResourceBlocking fails requests whose resource type is in types.
// The returned stop ends interception.
func applyResourceBlocking(page *rod.Page, types []string) (stop func() error, err error) {
	set := blockSet(types)
	if len(set) == 0 {
		return func() error { return nil }, nil
	}

	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		if set[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}

	go router.Run()

	return router.Stop, nil
}
