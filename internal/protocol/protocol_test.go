package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ClientMessage
	}{
		{
			name: "join",
			raw:  `{"type":"join","roomId":"r1","userId":"u1","userName":"Ada"}`,
			want: Join{RoomID: "r1", UserID: "u1", UserName: "Ada"},
		},
		{
			name: "leave",
			raw:  `{"type":"leave","roomId":"r1","userId":"u1"}`,
			want: Leave{RoomID: "r1", UserID: "u1"},
		},
		{
			name: "updateCell zero coordinates",
			raw:  `{"type":"updateCell","roomId":"r1","row":0,"col":0,"value":"42"}`,
			want: UpdateCell{RoomID: "r1", Row: 0, Col: 0, Value: "42"},
		},
		{
			name: "updateCell empty value clears",
			raw:  `{"type":"updateCell","roomId":"r1","row":3,"col":4,"value":""}`,
			want: UpdateCell{RoomID: "r1", Row: 3, Col: 4, Value: ""},
		},
		{
			name: "updateCell missing value treated as clear",
			raw:  `{"type":"updateCell","roomId":"r1","row":3,"col":4}`,
			want: UpdateCell{RoomID: "r1", Row: 3, Col: 4, Value: ""},
		},
		{
			name: "selectCell",
			raw:  `{"type":"selectCell","roomId":"r1","userId":"u1","userName":"Ada","row":1,"col":2}`,
			want: SelectCell{RoomID: "r1", UserID: "u1", UserName: "Ada", Row: 1, Col: 2},
		},
		{
			name: "lockCell",
			raw:  `{"type":"lockCell","roomId":"r1","row":5,"col":6,"userId":"u1"}`,
			want: LockCell{RoomID: "r1", Row: 5, Col: 6, UserID: "u1"},
		},
		{
			name: "unlockCell",
			raw:  `{"type":"unlockCell","roomId":"r1","row":5,"col":6,"userId":"u1"}`,
			want: UnlockCell{RoomID: "r1", Row: 5, Col: 6, UserID: "u1"},
		},
		{
			name: "ping",
			raw:  `{"type":"ping"}`,
			want: Ping{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("decoded %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"unparseable", `{not json`, CodeMalformed},
		{"missing type", `{"roomId":"r1"}`, CodeMalformed},
		{"unknown type", `{"type":"teleport"}`, CodeUnknownType},
		{"join without user", `{"type":"join","roomId":"r1"}`, CodeMalformed},
		{"updateCell without row", `{"type":"updateCell","roomId":"r1","col":2}`, CodeMalformed},
		{"lockCell without user", `{"type":"lockCell","roomId":"r1","row":1,"col":2}`, CodeMalformed},
		{"selectCell without name", `{"type":"selectCell","roomId":"r1","userId":"u1","row":1,"col":2}`, CodeMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatal("expected decode error")
			}
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if perr.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, perr.Code)
			}
		})
	}
}

func TestServerEventWireFields(t *testing.T) {
	data, err := json.Marshal(NewCellSelected("u1", "Ada", 1, 2, "#3cb44b"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "userId", "userName", "row", "col", "color"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("cellSelected missing wire field %q: %s", key, data)
		}
	}
	if fields["type"] != TypeCellSelected {
		t.Fatalf("expected type %s, got %v", TypeCellSelected, fields["type"])
	}

	data, err = json.Marshal(NewInitialData(
		[]CellView{{Row: 0, Col: 0, Value: "42"}},
		[]UserView{{ID: "u1", Name: "Ada"}},
		nil, nil))
	if err != nil {
		t.Fatalf("marshal initialData: %v", err)
	}
	env, err := DecodeServer(data)
	if err != nil {
		t.Fatalf("decode server: %v", err)
	}
	if env.Type != TypeInitialData || len(env.Cells) != 1 || env.Cells[0].Value != "42" {
		t.Fatalf("unexpected snapshot round-trip: %+v", env)
	}
	if len(env.ActiveUsers) != 1 || env.ActiveUsers[0].ID != "u1" {
		t.Fatalf("expected active user u1, got %+v", env.ActiveUsers)
	}
}

func TestOpLabels(t *testing.T) {
	if Op(Join{}) != TypeJoin || Op(UpdateCell{}) != TypeUpdateCell || Op(Ping{}) != TypePing {
		t.Fatal("op labels must match message type names")
	}
}
