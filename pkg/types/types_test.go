package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "NotFound"},
		{fmt.Errorf("task A|1: %w", ErrPolicyViolation), "PolicyViolation"},
		{fmt.Errorf("insert: %w", ErrStorageFailure), "StorageFailure"},
		{fmt.Errorf("boom"), "Internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
}

func TestSortByStart(t *testing.T) {
	tasks := []*Task{
		{StorageID: 3, Start: 300},
		{StorageID: 2, Start: 100},
		{StorageID: 1, Start: 100},
	}
	SortByStart(tasks)
	assert.Equal(t, []int64{1, 2, 3}, []int64{tasks[0].StorageID, tasks[1].StorageID, tasks[2].StorageID})
}

func TestTaskCloneIsIndependent(t *testing.T) {
	orig := &Task{TaskID: "A|1", Properties: map[string]any{"Status": "Dispatched"}}
	c := orig.Clone()
	c.Properties["Status"] = "Working"
	assert.Equal(t, "Dispatched", orig.Text("Status"))
	assert.Equal(t, "Working", c.Text("Status"))
}

func TestFilterEmpty(t *testing.T) {
	assert.True(t, TaskFilter{}.Empty())
	assert.False(t, TaskFilter{TaskID: "x"}.Empty())
}
