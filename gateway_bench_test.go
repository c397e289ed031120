package crmgate

import (
	"context"
	"strconv"
	"testing"
)

func BenchmarkResolveSettled(b *testing.B) {
	gw, err := New().WithBackend((&scriptedBackend{restoreID: standardUser}).factory()).Build()
	if err != nil {
		b.Fatal(err)
	}
	defer gw.Close()
	ctx := context.Background()
	if _, err := gw.Activate(ctx, "sid", "/leads"); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := gw.Resolve(ctx, "sid", "/leads"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkActivateEntrySurface(b *testing.B) {
	gw, err := New().WithBackend((&scriptedBackend{}).factory()).Build()
	if err != nil {
		b.Fatal(err)
	}
	defer gw.Close()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := gw.Activate(ctx, "sid-"+strconv.Itoa(i), "/login"); err != nil {
			b.Fatal(err)
		}
	}
}
