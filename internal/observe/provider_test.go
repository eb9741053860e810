package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

func TestServiceResource_MergesWithSDKDefault(t *testing.T) {
	t.Parallel()
	res, err := serviceResource(ProviderConfig{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	if got := res.SchemaURL(); got != resource.Default().SchemaURL() {
		t.Errorf("SchemaURL = %q, want the SDK default %q", got, resource.Default().SchemaURL())
	}
	want := map[attribute.Key]string{
		"service.name":    "casecoach",
		"service.version": "1.2.3",
	}
	for k, v := range want {
		got, ok := res.Set().Value(k)
		if !ok || got.AsString() != v {
			t.Errorf("%s = %q, want %q", k, got.AsString(), v)
		}
	}
}

func TestSetup_ServesPrometheus(t *testing.T) {
	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})

	tel, err := Setup(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if otel.GetMeterProvider() != tel.Meter {
		t.Error("meter provider not installed globally")
	}

	m, err := NewMetrics(tel.Meter)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordProviderRequest(context.Background(), "gemini-live", "live", "ok")

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"casecoach_provider_requests", `provider="gemini-live"`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
