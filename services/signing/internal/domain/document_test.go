package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldValueDecodeTracksMissingValue(t *testing.T) {
	var got []FieldValue
	require.NoError(t, json.Unmarshal([]byte(`[
		{"field_id":"fld_1","value":"Alice"},
		{"field_id":"fld_2","value":""},
		{"field_id":"fld_3"},
		{"field_id":"fld_4","value":null}
	]`), &got))
	require.Equal(t, []FieldValue{
		{FieldID: "fld_1", Value: "Alice"},
		{FieldID: "fld_2", Value: ""},
		{FieldID: "fld_3", NoValue: true},
		{FieldID: "fld_4", NoValue: true},
	}, got)

	var one FieldValue
	require.Error(t, json.Unmarshal([]byte(`{"field_id":"fld_1","value":"x","extra":1}`), &one))

	out, err := json.Marshal(FieldValue{FieldID: "fld_1", Value: "x"})
	require.NoError(t, err)
	require.JSONEq(t, `{"field_id":"fld_1","value":"x"}`, string(out))
}
