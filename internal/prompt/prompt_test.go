package prompt

import "testing"

func TestBuild(t *testing.T) {
	got := Build("Hello {name}, you asked for {n} items", []UserInput{
		{Key: "name", Value: "Ada"},
		{Key: "n", Value: "3"},
	})
	if got != "Hello Ada, you asked for 3 items" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestBuild_MissingInputLeavesPlaceholder(t *testing.T) {
	got := Build("Hello {name}", nil)
	if got != "Hello {name}" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestBuild_RepeatedPlaceholder(t *testing.T) {
	got := Build("{x} and {x}", []UserInput{{Key: "x", Value: "y"}})
	if got != "y and y" {
		t.Fatalf("unexpected result: %q", got)
	}
}
