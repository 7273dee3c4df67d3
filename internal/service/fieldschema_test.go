package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigFieldSchema(t *testing.T) {
	schema := NewConfigFieldSchema([]string{
		"student.phone",
		" Student.Address ",
		"malformed",
		".orphan",
		"student.",
	})

	require.True(t, schema.IsEditable("student", "phone"))
	require.True(t, schema.IsEditable("STUDENT", "address"))
	require.False(t, schema.IsEditable("student", "nis"))
	require.False(t, schema.IsEditable("teacher", "phone"))
	require.False(t, schema.IsEditable("student", ""))
	require.False(t, schema.IsEditable("", "orphan"))
}
