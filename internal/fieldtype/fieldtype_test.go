package fieldtype

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyIntegerField(t *testing.T) {
	inf := New(100)
	for i := 0; i < 60; i++ {
		inf.Observe(Scalar("42"))
	}
	typ, conf := inf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeInteger, typ)
	assert.Equal(t, 1.0, conf)
}

func TestClassifyStringFieldDespiteNumericLookingName(t *testing.T) {
	inf := New(100)
	for i := 0; i < 60; i++ {
		inf.Observe(Scalar("90210-extra"))
	}
	typ, _ := inf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeString, typ)
}

func TestBelowMinSampleSizeIsNotFreshButStillClassifiesOnFirstCall(t *testing.T) {
	inf := New(100)
	for i := 0; i < 10; i++ {
		inf.Observe(Scalar("true"))
	}
	typ, conf := inf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeBool, typ)
	assert.Equal(t, 1.0, conf)
}

func TestBelowConfidenceThresholdReportsUnknown(t *testing.T) {
	inf := New(100)
	for i := 0; i < 30; i++ {
		inf.Observe(Scalar("42"))
	}
	for i := 0; i < 30; i++ {
		inf.Observe(Scalar("hello"))
	}
	typ, _ := inf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeUnknown, typ)
}

func TestStaleCacheIsRecomputed(t *testing.T) {
	inf := New(100)
	for i := 0; i < 60; i++ {
		inf.Observe(Scalar("42"))
	}
	now := time.Now()
	typ, _ := inf.Classify(50, 0.9, 24*time.Hour, now)
	assert.Equal(t, TypeInteger, typ)

	// a full sample's worth of new values pushes every "42" out
	for i := 0; i < 100; i++ {
		inf.Observe(Scalar("hello"))
	}
	later := now.Add(25 * time.Hour)
	typ, _ = inf.Classify(50, 0.9, 24*time.Hour, later)
	assert.Equal(t, TypeString, typ)
}

func TestRingBufferRotatesOldestValues(t *testing.T) {
	inf := New(10)
	for i := 0; i < 10; i++ {
		inf.Observe(Scalar("42"))
	}
	assert.Equal(t, 10, inf.SampleSize())
	for i := 0; i < 10; i++ {
		inf.Observe(Scalar("hello"))
	}
	assert.Equal(t, 10, inf.SampleSize(), "sample should stay bounded at max size")
	typ, _ := inf.Classify(5, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeString, typ, "every original value should have rotated out")
}

func TestClassifyUUIDField(t *testing.T) {
	inf := New(100)
	for i := 0; i < 60; i++ {
		inf.Observe(Scalar("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	}
	typ, conf := inf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeUUID, typ)
	assert.Equal(t, 1.0, conf)
}

func TestClassifyISODateAndDateTimeFields(t *testing.T) {
	dateInf := New(100)
	for i := 0; i < 60; i++ {
		dateInf.Observe(Scalar("2024-03-15"))
	}
	typ, _ := dateInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeISODate, typ)

	dateTimeInf := New(100)
	for i := 0; i < 60; i++ {
		dateTimeInf.Observe(Scalar("2024-03-15T10:30:00Z"))
	}
	typ, _ = dateTimeInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeISODateTime, typ)
}

func TestClassifyUnixTimestampBuckets(t *testing.T) {
	secInf := New(100)
	for i := 0; i < 60; i++ {
		secInf.Observe(Scalar("1735689600")) // 2025-01-01, 10 digits
	}
	typ, _ := secInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeUnixSeconds, typ)

	msInf := New(100)
	for i := 0; i < 60; i++ {
		msInf.Observe(Scalar("1735689600000")) // same instant in milliseconds, 13 digits
	}
	typ, _ = msInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeUnixMillis, typ)

	plainInf := New(100)
	for i := 0; i < 60; i++ {
		plainInf.Observe(Scalar("42")) // too small to be a timestamp in either unit
	}
	typ, _ = plainInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeInteger, typ)
}

func TestClassifyArrayAndObjectFields(t *testing.T) {
	arrInf := New(100)
	for i := 0; i < 60; i++ {
		arrInf.Observe(ArraySample())
	}
	typ, conf := arrInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeArray, typ)
	assert.Equal(t, 1.0, conf)

	objInf := New(100)
	for i := 0; i < 60; i++ {
		objInf.Observe(ObjectSample())
	}
	typ, _ = objInf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeObject, typ)
}

func TestNullSamplesDoNotCountTowardClassification(t *testing.T) {
	inf := New(100)
	for i := 0; i < 60; i++ {
		inf.Observe(Scalar("42"))
	}
	for i := 0; i < 60; i++ {
		inf.Observe(NullSample())
	}
	assert.Equal(t, 60, inf.SampleSize(), "nulls must not be added to the sample")
	typ, conf := inf.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeInteger, typ)
	assert.Equal(t, 1.0, conf)
}

func TestMarshalRoundTrip(t *testing.T) {
	inf := New(100)
	for i := 0; i < 60; i++ {
		inf.Observe(Scalar("42"))
	}
	inf.Classify(50, 0.9, 24*time.Hour, time.Now())

	data, err := inf.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 60, restored.SampleSize())
	typ, _ := restored.Classify(50, 0.9, 24*time.Hour, time.Now())
	assert.Equal(t, TypeInteger, typ)
}
