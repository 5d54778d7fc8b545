package cloudmap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/cloudmap-sd/breaker"
	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

func seededAPI() *fakeAPI {
	api := newFakeAPI()
	for i := 0; i < 5; i++ {
		api.namespaces = append(api.namespaces, types.NamespaceSummary{
			Id:   aws.String(fmt.Sprintf("ns-%d", i)),
			Name: aws.String(fmt.Sprintf("ns%d.local", i)),
			Type: types.NamespaceTypeDnsPrivate,
		})
	}
	api.services["ns-0"] = []types.ServiceSummary{
		{Id: aws.String("srv-a"), Name: aws.String("frontend")},
		{Id: aws.String("srv-b"), Name: aws.String("backend")},
		{Id: aws.String("srv-c"), Name: aws.String("worker")},
	}
	api.instances["srv-b"] = []types.InstanceSummary{
		{Id: aws.String("i-1"), Attributes: map[string]string{"AWS_INSTANCE_IPV4": "10.0.0.2", "AWS_INSTANCE_PORT": "8080"}},
		{Id: aws.String("i-2"), Attributes: map[string]string{"AWS_INSTANCE_IPV4": "10.0.0.3"}},
	}
	return api
}

func TestListNamespacesPaginates(t *testing.T) {
	api := seededAPI()
	client := NewWithAPI(api, &Config{PageSize: 2}, WithLogger(clog.Discard()))

	got, err := client.ListNamespaces(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, Namespace{ID: "ns-0", Name: "ns0.local", Type: "DNS_PRIVATE"}, got[0])
	require.Equal(t, "ns4.local", got[4].Name)
	require.Equal(t, 3, api.callCount(OpListNamespaces))
}

func TestListServicesFiltersByNamespace(t *testing.T) {
	api := seededAPI()
	client := NewWithAPI(api, &Config{PageSize: 2})

	got, err := client.ListServices(context.Background(), "ns-0")
	require.NoError(t, err)
	require.Equal(t, []Service{
		{ID: "srv-a", Name: "frontend", NamespaceID: "ns-0"},
		{ID: "srv-b", Name: "backend", NamespaceID: "ns-0"},
		{ID: "srv-c", Name: "worker", NamespaceID: "ns-0"},
	}, got)

	require.Len(t, api.filters, 2)
	flt := api.filters[0]
	require.Len(t, flt, 1)
	require.Equal(t, types.ServiceFilterNameNamespaceId, flt[0].Name)
	require.Equal(t, types.FilterConditionEq, flt[0].Condition)
	require.Equal(t, []string{"ns-0"}, flt[0].Values)
}

func TestListMissingNamesFallBackToUnknown(t *testing.T) {
	api := newFakeAPI()
	api.namespaces = []types.NamespaceSummary{{Id: aws.String("ns-x"), Type: types.NamespaceTypeHttp}}
	api.services["ns-x"] = []types.ServiceSummary{{Id: aws.String("srv-x"), Name: aws.String("")}}
	client := NewWithAPI(api, nil)

	nss, err := client.ListNamespaces(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Namespace{{ID: "ns-x", Name: UnknownName, Type: string(types.NamespaceTypeHttp)}}, nss)

	svcs, err := client.ListServices(context.Background(), "ns-x")
	require.NoError(t, err)
	require.Equal(t, []Service{{ID: "srv-x", Name: UnknownName, NamespaceID: "ns-x"}}, svcs)
}

func TestListInstancesCopiesAttributes(t *testing.T) {
	api := seededAPI()
	client := NewWithAPI(api, nil)

	got, err := client.ListInstances(context.Background(), "srv-b")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "srv-b", got[0].ServiceID)
	require.Equal(t, "8080", got[0].Attributes["AWS_INSTANCE_PORT"])

	// 修改返回值不影响上游数据
	got[0].Attributes["AWS_INSTANCE_IPV4"] = "changed"
	require.Equal(t, "10.0.0.2", api.instances["srv-b"][0].Attributes["AWS_INSTANCE_IPV4"])
}

func TestListEmpty(t *testing.T) {
	client := NewWithAPI(newFakeAPI(), nil)

	got, err := client.ListInstances(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestListAuthFailure(t *testing.T) {
	api := seededAPI()
	api.errs[OpListNamespaces] = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not allowed"}
	client := NewWithAPI(api, nil)

	_, err := client.ListNamespaces(context.Background())
	require.Error(t, err)

	var cmErr *Error
	require.ErrorAs(t, err, &cmErr)
	require.Equal(t, OpListNamespaces, cmErr.Op)
	require.Equal(t, KindAuth, cmErr.Kind)
	require.True(t, IsAuth(err))
	require.ErrorIs(t, err, xerrors.ErrUnauthorized)
	require.NotErrorIs(t, err, xerrors.ErrUnavailable)
}

func TestLimiterWaitsPerPage(t *testing.T) {
	api := seededAPI()
	limiter := &countingLimiter{}
	client := NewWithAPI(api, &Config{PageSize: 2},
		WithLimiter(limiter, ratelimit.Limit{Rate: 10, Burst: 10}))

	_, err := client.ListNamespaces(context.Background())
	require.NoError(t, err)
	_, err = client.ListServices(context.Background(), "ns-0")
	require.NoError(t, err)

	require.Equal(t, 3, limiter.waits[OpListNamespaces])
	require.Equal(t, 2, limiter.waits[OpListServices])
}

func TestLimiterErrorStopsCall(t *testing.T) {
	api := seededAPI()
	limiter := &countingLimiter{err: context.DeadlineExceeded}
	client := NewWithAPI(api, nil, WithLimiter(limiter, ratelimit.Limit{Rate: 1, Burst: 1}))

	_, err := client.ListNamespaces(context.Background())
	require.ErrorIs(t, err, xerrors.ErrUnavailable)
	require.Equal(t, 0, api.callCount(OpListNamespaces))
}

func TestInvalidLimitDisablesLimiter(t *testing.T) {
	limiter := &countingLimiter{}
	client := NewWithAPI(seededAPI(), nil, WithLimiter(limiter, ratelimit.Limit{}))

	_, err := client.ListNamespaces(context.Background())
	require.NoError(t, err)
	require.Empty(t, limiter.waits)
}

func TestBreakerFailsFast(t *testing.T) {
	api := seededAPI()
	api.errs[OpListInstances] = &smithy.GenericAPIError{Code: "ServiceUnavailable"}

	brk, err := breaker.New(&breaker.Config{
		Enabled:         true,
		Timeout:         time.Minute,
		FailureRatio:    0.5,
		MinimumRequests: 2,
	}, breaker.WithIsSuccessful(CountsAsBreakerSuccess))
	require.NoError(t, err)
	client := NewWithAPI(api, nil, WithBreaker(brk))

	for i := 0; i < 2; i++ {
		_, err := client.ListInstances(context.Background(), "srv-b")
		require.ErrorIs(t, err, xerrors.ErrUnavailable)
	}
	require.Equal(t, breaker.StateOpen, brk.State(OpListInstances))

	_, err = client.ListInstances(context.Background(), "srv-b")
	require.ErrorIs(t, err, breaker.ErrOpenState)
	require.Equal(t, KindUnavailable, Classify(err))
	require.Equal(t, 2, api.callCount(OpListInstances))

	// 其他操作不受影响
	_, err = client.ListNamespaces(context.Background())
	require.NoError(t, err)
}

func TestBreakerIgnoresAuthFailures(t *testing.T) {
	api := seededAPI()
	api.errs[OpListNamespaces] = &smithy.GenericAPIError{Code: "AccessDeniedException"}

	brk, err := breaker.New(&breaker.Config{Enabled: true, FailureRatio: 0.5, MinimumRequests: 2},
		breaker.WithIsSuccessful(CountsAsBreakerSuccess))
	require.NoError(t, err)
	client := NewWithAPI(api, nil, WithBreaker(brk))

	for i := 0; i < 5; i++ {
		_, err := client.ListNamespaces(context.Background())
		require.True(t, IsAuth(err))
	}
	require.Equal(t, breaker.StateClosed, brk.State(OpListNamespaces))
	require.Equal(t, 5, api.callCount(OpListNamespaces))
}

func TestNewResolvesConfig(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")
	t.Setenv("AWS_PROFILE", "")

	client, err := New(context.Background(), &Config{
		Region:   "eu-west-1",
		Endpoint: "http://localhost:4566",
		PageSize: 500,
	})
	require.NoError(t, err)
	require.EqualValues(t, 100, client.cfg.PageSize)
	require.Equal(t, 3, client.cfg.MaxAttempts)
}

func TestBreakerHalfOpenAllowsConcurrentListings(t *testing.T) {
	api := seededAPI()
	api.setErr(OpListInstances, &smithy.GenericAPIError{Code: "ServiceUnavailable"})

	brk, err := breaker.New(&breaker.Config{
		Enabled:         true,
		MaxRequests:     1,
		Timeout:         50 * time.Millisecond,
		FailureRatio:    0.5,
		MinimumRequests: 2,
	}, breaker.WithIsSuccessful(CountsAsBreakerSuccess))
	require.NoError(t, err)
	client := NewWithAPI(api, nil, WithBreaker(brk))

	for i := 0; i < 2; i++ {
		_, err := client.ListInstances(context.Background(), "srv-b")
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, brk.State(OpListInstances))
	require.Eventually(t, func() bool {
		return brk.State(OpListInstances) == breaker.StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	// 注册中心恢复，调用重叠以挤占唯一的试探名额
	api.setErr(OpListInstances, nil)
	api.setDelay(30 * time.Millisecond)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, errs[i] = client.ListInstances(ctx, "srv-b")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "listing %d", i)
	}
	require.Equal(t, breaker.StateClosed, brk.State(OpListInstances))
}
