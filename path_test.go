package olefs

import (
	"reflect"
	"testing"
)

func TestNameChainFromPath(t *testing.T) {
	type args struct {
		s string
	}
	tests := []struct {
		name string
		args args
		want []string
	}{
		{
			name: "empty",
			args: args{s: ""},
			want: []string{},
		},
		{
			name: "root",
			args: args{s: "/"},
			want: []string{},
		},
		{
			name: "valid abs",
			args: args{s: "/foo/bar/baz/"},
			want: []string{"foo", "bar", "baz"},
		},
		{
			name: "valid rel",
			args: args{s: "foo/bar/baz"},
			want: []string{"foo", "bar", "baz"},
		},
		{
			name: "valid up",
			args: args{s: "foo/bar/../baz"},
			want: []string{"foo", "baz"},
		},
		{
			name: "invalid up",
			args: args{s: "foo/../../baz"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameChainFromPath(tt.args.s); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NameChainFromPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPathFromNameChain(t *testing.T) {
	type args struct {
		names []string
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "empty",
			args: args{names: []string{}},
			want: "/",
		},
		{
			name: "valid",
			args: args{names: []string{"foo", "bar", "baz"}},
			want: "/foo/bar/baz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathFromNameChain(tt.args.names); got != tt.want {
				t.Errorf("PathFromNameChain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareNames(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
		want  Ordering
	}{
		{name: "shorter is less", left: "zzz", right: "aaaa", want: OrderLess},
		{name: "longer is greater", left: "aaaa", right: "zzz", want: OrderGreater},
		{name: "equal length lex", left: "abc", right: "abd", want: OrderLess},
		{name: "equal", left: "abc", right: "abc", want: OrderEqual},
		{name: "single chars", left: "c", right: "bb", want: OrderLess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareNames(tt.left, tt.right); got != tt.want {
				t.Errorf("CompareNames(%q, %q) = %v, want %v", tt.left, tt.right, got, tt.want)
			}
		})
	}
}

func TestParentPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "root", in: "/", want: "/"},
		{name: "top level", in: "/foo", want: "/"},
		{name: "nested", in: "/foo/bar", want: "/foo"},
		{name: "trailing slash", in: "/foo/bar/", want: "/foo"},
		{name: "no leading slash", in: "foo/bar", want: "/foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parentPath(tt.in); got != tt.want {
				t.Errorf("parentPath(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("normal name"); err != nil {
		t.Errorf("ValidateName() unexpected error: %v", err)
	}
	for _, bad := range []string{"", "a/b", "a\\b", "a:b", "a!b"} {
		if err := ValidateName(bad); err == nil {
			t.Errorf("ValidateName(%q) expected error", bad)
		}
	}
}
