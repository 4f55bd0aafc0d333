package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalRPC(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   Operation
		want string
	}{
		{
			name: "lock running",
			op:   Lock{Target: Running()},
			want: `<lock><target><running/></target></lock>`,
		},
		{
			name: "unlock candidate",
			op:   Unlock{Target: Candidate()},
			want: `<unlock><target><candidate/></target></unlock>`,
		},
		{
			name: "get-config startup",
			op:   GetConfig{Source: Startup()},
			want: `<get-config><source><startup/></source></get-config>`,
		},
		{
			name: "get-config subtree filter",
			op: GetConfig{
				Source: Running(),
				Filter: &Filter{Type: "subtree", Subtree: `<interfaces/>`},
			},
			want: `<get-config><source><running/></source><filter type="subtree"><interfaces/></filter></get-config>`,
		},
		{
			name: "get-config with-defaults",
			op:   GetConfig{Source: Running(), WithDefaults: "report-all"},
			want: `<get-config><source><running/></source>` +
				`<with-defaults xmlns="urn:ietf:params:xml:ns:yang:ietf-netconf-with-defaults">report-all</with-defaults>` +
				`</get-config>`,
		},
		{
			name: "get xpath filter",
			op:   Get{Filter: &Filter{Type: "xpath", Select: "/interfaces/interface"}},
			want: `<get><filter type="xpath" select="/interfaces/interface"/></get>`,
		},
		{
			name: "edit-config",
			op: EditConfig{
				Target:           Candidate(),
				DefaultOperation: "merge",
				ErrorOption:      "rollback-on-error",
				Config:           `<top xmlns="urn:example"/>`,
			},
			want: `<edit-config><target><candidate/></target>` +
				`<default-operation>merge</default-operation>` +
				`<error-option>rollback-on-error</error-option>` +
				`<config><top xmlns="urn:example"/></config></edit-config>`,
		},
		{
			name: "copy-config url",
			op:   CopyConfig{Target: URL("file:///backup.xml"), Source: Running()},
			want: `<copy-config><target><url>file:///backup.xml</url></target>` +
				`<source><running/></source></copy-config>`,
		},
		{
			name: "delete-config",
			op:   DeleteConfig{Target: Startup()},
			want: `<delete-config><target><startup/></target></delete-config>`,
		},
		{
			name: "kill-session",
			op:   KillSession{SessionID: 4},
			want: `<kill-session><session-id>4</session-id></kill-session>`,
		},
		{
			name: "close-session",
			op:   CloseSession{},
			want: `<close-session/>`,
		},
		{
			name: "commit",
			op:   Commit{},
			want: `<commit/>`,
		},
		{
			name: "confirmed commit",
			op:   Commit{Confirmed: true, ConfirmTimeout: 120, Persist: "abc"},
			want: `<commit><confirmed/><confirm-timeout>120</confirm-timeout><persist>abc</persist></commit>`,
		},
		{
			name: "discard-changes",
			op:   DiscardChanges{},
			want: `<discard-changes/>`,
		},
		{
			name: "cancel-commit",
			op:   CancelCommit{PersistID: "abc"},
			want: `<cancel-commit><persist-id>abc</persist-id></cancel-commit>`,
		},
		{
			name: "validate datastore",
			op:   Validate{Source: Candidate()},
			want: `<validate><source><candidate/></source></validate>`,
		},
		{
			name: "validate inline",
			op:   Validate{Config: `<top/>`},
			want: `<validate><source><config><top/></config></source></validate>`,
		},
		{
			name: "get-schema",
			op:   GetSchema{Identifier: "ietf-interfaces", Version: "2018-02-20", Format: "yang"},
			want: `<get-schema xmlns="urn:ietf:params:xml:ns:yang:ietf-netconf-monitoring">` +
				`<identifier>ietf-interfaces</identifier><version>2018-02-20</version>` +
				`<format>yang</format></get-schema>`,
		},
		{
			name: "create-subscription",
			op:   CreateSubscription{Stream: "NETCONF"},
			want: `<create-subscription xmlns="urn:ietf:params:xml:ns:netconf:notification:1.0">` +
				`<stream>NETCONF</stream></create-subscription>`,
		},
		{
			name: "generic",
			op:   Generic{Body: `<custom xmlns="urn:example"/>`},
			want: `<custom xmlns="urn:example"/>`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.op.MarshalRPC())
		})
	}
}

func TestDatastoreEscaping(t *testing.T) {
	op := CopyConfig{Target: URL("file:///a&b.xml"), Source: Running()}
	assert.Contains(t, op.MarshalRPC(), "file:///a&amp;b.xml")
}
