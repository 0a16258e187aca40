package persistence_test

import (
	"context"
	"testing"

	"workshop/testinfra"

	. "github.com/onsi/gomega"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
)

type probeRecord struct {
	ID   uint64 `gorm:"primary_key"`
	Name string
}

func TestGormTracing(t *testing.T) {
	RegisterTestingT(t)

	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)

	testDatabase := testinfra.StartMysqlTestDatabase(t, "workshop")
	defer testinfra.StopMysqlTestDatabase(testDatabase)
	Expect(testDatabase.DS.GormDB(context.Background()).AutoMigrate(&probeRecord{}).Error).To(BeNil())

	t.Run("gorm tracing should be ignored when parent span not found", func(t *testing.T) {
		tracer.Reset()

		r := []probeRecord{}
		Expect(testDatabase.DS.GormDB(context.Background()).Find(&r).Error).To(BeNil())
		Expect(r).To(BeEmpty())
		Expect(tracer.FinishedSpans()).To(BeEmpty())
	})

	t.Run("gorm tracing should be work with parent span", func(t *testing.T) {
		tracer.Reset()

		clientSpan := tracer.StartSpan("client")
		ctx := opentracing.ContextWithSpan(context.Background(), clientSpan)

		r := []probeRecord{}
		Expect(testDatabase.DS.GormDB(ctx).Find(&r).Error).To(BeNil())
		clientSpan.Finish()

		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(2))
		Expect(spans[1].OperationName).To(Equal("client"))
		Expect(spans[0].OperationName).To(Equal("sql"))
		Expect(spans[0].ParentID).To(Equal(spans[1].SpanContext.SpanID))
	})
}
