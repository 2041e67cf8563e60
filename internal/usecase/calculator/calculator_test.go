package calculator

import (
	"strings"
	"testing"
)

func TestCalculate(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"2 ** 3", "8"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"-2 ** 2", "-4"},
		{"2 ** 3 ** 2", "512"},
		{"2 ** -1", "0.5"},
		{"7 // 2", "3"},
		{"-7 // 2", "-4"},
		{"-7 % 3", "2"},
		{"10 / 4", "2.5"},
		{"sqrt(16)", "4"},
		{"abs(-3.5)", "3.5"},
		{"round(2.5)", "2"},
		{"round(3.14159, 2)", "3.14"},
		{"ceil(1.2) + floor(1.8)", "3"},
		{"log(e)", "1"},
		{"log(8, 2)", "3"},
		{"pi", "3.141593"},
		{"1/0", "inf"},
		{"-1/0", "-inf"},
		{"  1 + 1  ", "2"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := Calculate(tc.expr); got != tc.want {
				t.Fatalf("Calculate(%q) = %q, want %q", tc.expr, got, tc.want)
			}
		})
	}
}

func TestCalculateThirds(t *testing.T) {
	if got := Calculate("1/3"); !strings.HasPrefix(got, "0.333333") {
		t.Fatalf("ожидали 0.333333..., получили %q", got)
	}
}

func TestCalculateRejectsUnsafeInput(t *testing.T) {
	cases := []string{
		"__import__('os')",
		"2; 3",
		"2 + 'a'",
		"os.system('ls')",
		"x + 1",
		"[1, 2][0]",
		"exec('1')",
		"sqrt(-1)",
		"sqrt(1, 2)",
		"(1 + 2",
		"",
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			got := Calculate(expr)
			if !strings.HasPrefix(got, "Error") {
				t.Fatalf("Calculate(%q) = %q, ожидали ошибку", expr, got)
			}
		})
	}
}

func TestCalculateSyntaxMessage(t *testing.T) {
	if got := Calculate("2; 3"); got != "Error: Invalid syntax" {
		t.Fatalf("неожиданное сообщение: %q", got)
	}
	if got := Calculate("__import__('os')"); got != "Error: unsupported function: __import__" {
		t.Fatalf("неожиданное сообщение: %q", got)
	}
}

func TestCalculateTooLong(t *testing.T) {
	expr := strings.Repeat("1+", 100) + "1"
	if got := Calculate(expr); got != "Error: Expression too long (max 200 chars)" {
		t.Fatalf("неожиданный ответ: %q", got)
	}
}
