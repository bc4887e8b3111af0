package authz_test

import (
	"fmt"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/authz"
)

func ExampleAuthorize() {
	identity := &auth.Identity{ID: "alice", AllowedTools: []string{"read_file"}}

	msg, _ := authz.ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"delete_file"}}`))
	decision := authz.Authorize(identity, msg)

	fmt.Println("Allowed:", decision.Allowed)
	fmt.Println("Audit:", decision.Reason)
	fmt.Println("Client:", authz.PublicDenyMessage)
	// Output:
	// Allowed: false
	// Audit: Identity 'alice' is not authorized to call tool 'delete_file'
	// Client: tool not permitted
}

func ExampleFilterToolsList() {
	identity := &auth.Identity{ID: "alice", AllowedTools: []string{"read"}}
	result := []byte(`{"tools":[{"name":"read"},{"name":"write"},{"name":"delete"}]}`)

	filtered, err := authz.FilterToolsList(identity, result)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(string(filtered))
	// Output:
	// {"tools":[{"name":"read"}]}
}
