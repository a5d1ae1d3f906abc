// Package routes holds the read-only routing tree the encryption middleware
// consults to decide, per method and path, whether a request's body and/or
// response must be ExEF-encrypted.
package routes

import "strings"

// EncryptedRoute describes one method's encryption and authentication
// policy on a matched route. Encryption and authentication are
// independent axes (spec.md §6): a route can require Bearer+PoP without
// either body being ExEF-wrapped (file delete/rename), or require only a
// bearer token with no PoP header at all (the file existence check).
type EncryptedRoute struct {
	EncryptedBody     bool
	EncryptedResponse bool

	// RequiresAuth means every request on this route must present a valid
	// bearer token before the handler runs, independent of whether the
	// body or response is encrypted.
	RequiresAuth bool

	// RequiresPoP means a valid X-SRP-PoP header must accompany the
	// bearer token. Ignored if RequiresAuth is false.
	RequiresPoP bool

	// ExcludedStatuses are response codes that pass through as cleartext
	// even on an otherwise-encrypted route (e.g. allowing a 404 to stay
	// plain JSON on the login route).
	ExcludedStatuses map[int]bool
}

// Node is one segment of the routing tree.
type Node struct {
	segment  string
	hasParam bool
	children map[string]*Node
	methods  map[string]EncryptedRoute
}

func newNode(segment string) *Node {
	return &Node{segment: segment, children: make(map[string]*Node)}
}

// Tree is the root of the routing table.
type Tree struct {
	root *Node
}

// New returns an empty routing tree.
func New() *Tree {
	return &Tree{root: newNode("")}
}

// Add registers method's encryption policy at path, a slash-separated
// literal segment path such as "/api/files/list". Passing withParam marks
// the final segment as a path-parameter capture: once traversal reaches
// that node, the remainder of the incoming URL is treated as a single
// parameter rather than being descended into further.
func (t *Tree) Add(method, path string, withParam bool, route EncryptedRoute) {
	segments := splitPath(path)
	node := t.root
	for i, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			child = newNode(seg)
			node.children[seg] = child
		}
		node = child
		if i == len(segments)-1 && withParam {
			node.hasParam = true
		}
	}
	if node.methods == nil {
		node.methods = make(map[string]EncryptedRoute)
	}
	node.methods[method] = route
}

// Lookup traverses the tree for method and path. The boolean return is
// false when the path matches no registered route (pass-through: the
// middleware must not touch the body in either direction).
func (t *Tree) Lookup(method, path string) (EncryptedRoute, bool) {
	segments := splitPath(path)
	node := t.root
	for _, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			return EncryptedRoute{}, false
		}
		node = child
		if node.hasParam {
			// Remainder of the path (if any) is the captured parameter;
			// stop descending regardless of how many segments remain.
			break
		}
	}
	route, ok := node.methods[method]
	return route, ok
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// BuildDefault constructs the system's default routing policy (spec.md
// §4.G): the file and vault endpoints are encrypted in both directions,
// and the login route encrypts only its response while letting a 404
// pass through as cleartext JSON (so an unknown-group-size style error
// doesn't require a session key that doesn't exist yet).
func BuildDefault() *Tree {
	t := New()

	bothWays := EncryptedRoute{EncryptedBody: true, EncryptedResponse: true, RequiresAuth: true, RequiresPoP: true}
	authedOnly := EncryptedRoute{RequiresAuth: true, RequiresPoP: true}

	t.Add("POST", "/api/files/upload", true, bothWays)
	t.Add("POST", "/api/files/mkdir", true, bothWays)
	t.Add("GET", "/api/files/download", true, EncryptedRoute{EncryptedResponse: true, RequiresAuth: true, RequiresPoP: true})
	t.Add("GET", "/api/files/list", true, EncryptedRoute{EncryptedResponse: true, RequiresAuth: true, RequiresPoP: true})
	t.Add("DELETE", "/api/files/delete", true, authedOnly)
	t.Add("POST", "/api/files/rename", true, authedOnly)
	t.Add("GET", "/api/users/vault", true, EncryptedRoute{EncryptedResponse: true, RequiresAuth: true, RequiresPoP: true})

	// HEAD /api/files/check/path/{path} requires only a bearer token: no
	// PoP header and no body in either direction (spec.md §6).
	t.Add("HEAD", "/api/files/check/path", true, EncryptedRoute{RequiresAuth: true, RequiresPoP: false})

	t.Add("POST", "/api/auth/login", false, EncryptedRoute{
		EncryptedResponse: true,
		ExcludedStatuses:  map[int]bool{404: true},
	})

	return t
}
