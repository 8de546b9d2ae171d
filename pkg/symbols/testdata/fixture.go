package main

import "fmt"

//go:noinline
func resolveTarget(a, b *int) {
	*a = *a**b + 1
}

func main() {
	a, b := 6, 7
	resolveTarget(&a, &b)
	fmt.Println(a)
}
