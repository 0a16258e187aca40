package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"workshop/testinfra"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/gomega"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
)

func TestTracingIngress(t *testing.T) {
	RegisterTestingT(t)

	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	router := gin.Default()
	router.Use(TracingIngress())
	router.GET("/v1/bays/:id/history", func(c *gin.Context) {
		Expect(opentracing.SpanFromContext(c.Request.Context())).ToNot(BeNil())
		c.Status(http.StatusOK)
	})
	router.GET("/v1/dashboard", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	t.Run("should start a root span named after the route", func(t *testing.T) {
		tracer.Reset()

		req := httptest.NewRequest(http.MethodGet, "/v1/bays/bay-1/history", nil)
		status, _, _ := testinfra.ExecuteRequest(req, router)
		Expect(status).To(Equal(http.StatusOK))

		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(1))
		s := spans[0]
		Expect(s.OperationName).To(Equal("GET /v1/bays/:id/history"))
		Expect(s.ParentID).To(Equal(0))
		Expect(time.Since(s.FinishTime) < time.Second).To(BeTrue())
		Expect(s.Tag("http.status_code")).To(Equal(uint16(http.StatusOK)))
		Expect(s.Tag("error")).To(BeNil())
	})

	t.Run("should continue the caller trace", func(t *testing.T) {
		tracer.Reset()

		clientSpan := tracer.StartSpan("client")
		req := httptest.NewRequest(http.MethodGet, "/v1/bays/bay-1/history", nil)
		_ = tracer.Inject(clientSpan.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header))
		status, _, _ := testinfra.ExecuteRequest(req, router)
		clientSpan.Finish()
		Expect(status).To(Equal(http.StatusOK))

		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(2))
		server, client := spans[0], spans[1]
		Expect(client.OperationName).To(Equal("client"))
		Expect(server.ParentID).To(Equal(client.SpanContext.SpanID))
		Expect(server.SpanContext.TraceID).To(Equal(client.SpanContext.TraceID))
	})

	t.Run("should flag server failures", func(t *testing.T) {
		tracer.Reset()

		req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
		status, _, _ := testinfra.ExecuteRequest(req, router)
		Expect(status).To(Equal(http.StatusBadGateway))

		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(1))
		Expect(spans[0].Tag("error")).To(Equal(true))
	})
}
