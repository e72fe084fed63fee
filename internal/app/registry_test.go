package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/core/coretest"
	"github.com/dkeye/CamRelay/internal/domain"
)

func ids(conns []core.Conn) []core.ConnID {
	out := make([]core.ConnID, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry()
	c := coretest.NewConn("c1")

	_, err := reg.Register("", domain.RoleInitiator, c)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = reg.Register("s1", domain.Role("admin"), c)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, 0, reg.SessionCount())
	_, ok := reg.BindingOf(c.ID())
	assert.False(t, ok)
}

func TestRegistry_RegisterCreatesSessionLazily(t *testing.T) {
	reg := NewRegistry()
	initr := coretest.NewConn("initr")

	res, err := reg.Register("s1", domain.RoleInitiator, initr)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Nil(t, res.Displaced)

	v := coretest.NewConn("v1")
	res, err = reg.Register("s1", domain.RoleViewer, v)
	require.NoError(t, err)
	assert.False(t, res.Created)

	b, ok := reg.BindingOf(v.ID())
	require.True(t, ok)
	assert.Equal(t, Binding{SessionID: "s1", Role: domain.RoleViewer}, b)
}

func TestRegistry_ViewerSetHasNoDuplicates(t *testing.T) {
	reg := NewRegistry()
	v1 := coretest.NewConn("v1")
	v2 := coretest.NewConn("v2")

	for _, c := range []core.Conn{v1, v2, v1} {
		_, err := reg.Register("s1", domain.RoleViewer, c)
		require.NoError(t, err)
	}

	viewers, err := reg.Lookup("s1", domain.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, []core.ConnID{"v1", "v2"}, ids(viewers))
}

func TestRegistry_DisplacementLastWriterWins(t *testing.T) {
	reg := NewRegistry()
	old := coretest.NewConn("old")
	cur := coretest.NewConn("new")

	_, err := reg.Register("s1", domain.RoleInitiator, old)
	require.NoError(t, err)
	res, err := reg.Register("s1", domain.RoleInitiator, cur)
	require.NoError(t, err)

	require.NotNil(t, res.Displaced)
	assert.Equal(t, old.ID(), res.Displaced.ID())
	assert.False(t, old.Closed())
	assert.Empty(t, old.Frames())

	got, err := reg.Lookup("s1", domain.RoleInitiator)
	require.NoError(t, err)
	assert.Equal(t, []core.ConnID{"new"}, ids(got))

	// The displaced connection closing later must not clear its successor.
	_, ok := reg.Unregister(old)
	assert.False(t, ok)
	got, err = reg.Lookup("s1", domain.RoleInitiator)
	require.NoError(t, err)
	assert.Equal(t, []core.ConnID{"new"}, ids(got))
}

func TestRegistry_DisplacedProducerOfferDropped(t *testing.T) {
	reg := NewRegistry()
	old := coretest.NewConn("old")
	cur := coretest.NewConn("new")

	_, err := reg.Register("s1", domain.RoleInitiator, old)
	require.NoError(t, err)
	_, err = reg.StorePendingOffer("s1", domain.RoleInitiator, core.Frame(`{"type":"offer","offer":{"sdp":"OLD"}}`))
	require.NoError(t, err)

	_, err = reg.Register("s1", domain.RoleInitiator, cur)
	require.NoError(t, err)
	_, ok := reg.ConsumePendingOffer("s1", domain.RoleInitiator)
	assert.False(t, ok)

	res, err := reg.Register("s1", domain.RoleViewer, coretest.NewConn("v"))
	require.NoError(t, err)
	assert.Nil(t, res.PendingOffer)
	info, ok := reg.SessionInfo("s1")
	require.True(t, ok)
	assert.Empty(t, info.PendingOffers)
}

func TestRegistry_ReRegisterMovesConnection(t *testing.T) {
	reg := NewRegistry()
	c := coretest.NewConn("c")
	v := coretest.NewConn("v")

	_, err := reg.Register("s1", domain.RoleInitiator, c)
	require.NoError(t, err)
	_, err = reg.Register("s1", domain.RoleViewer, v)
	require.NoError(t, err)

	res, err := reg.Register("s2", domain.RoleStreamer, c)
	require.NoError(t, err)
	require.NotNil(t, res.Vacated)
	assert.Equal(t, Binding{SessionID: "s1", Role: domain.RoleInitiator}, res.Vacated.Binding)
	assert.Equal(t, []core.ConnID{"v"}, ids(res.Vacated.Peers))

	_, err = reg.Lookup("s1", domain.RoleInitiator)
	assert.ErrorIs(t, err, ErrNotFound)
	b, ok := reg.BindingOf(c.ID())
	require.True(t, ok)
	assert.Equal(t, Binding{SessionID: "s2", Role: domain.RoleStreamer}, b)

	// Same slot again is idempotent.
	res, err = reg.Register("s2", domain.RoleStreamer, c)
	require.NoError(t, err)
	assert.Nil(t, res.Vacated)
	assert.Nil(t, res.Displaced)
}

func TestRegistry_PendingOfferReplay(t *testing.T) {
	reg := NewRegistry()
	initr := coretest.NewConn("initr")
	_, err := reg.Register("s1", domain.RoleInitiator, initr)
	require.NoError(t, err)

	offer := core.Frame(`{"type":"offer","sessionId":"s1","origin":"initiator","offer":{"sdp":"x"}}`)
	receivers, err := reg.StorePendingOffer("s1", domain.RoleInitiator, offer)
	require.NoError(t, err)
	assert.Empty(t, receivers)

	for _, id := range []string{"v1", "v2"} {
		res, err := reg.Register("s1", domain.RoleViewer, coretest.NewConn(id))
		require.NoError(t, err)
		assert.Equal(t, offer, res.PendingOffer, id)
	}

	// Read without clearing.
	got, ok := reg.ConsumePendingOffer("s1", domain.RoleInitiator)
	require.True(t, ok)
	assert.Equal(t, offer, got)

	// Hosts only get streamer offers.
	res, err := reg.Register("s1", domain.RoleHost, coretest.NewConn("h"))
	require.NoError(t, err)
	assert.Nil(t, res.PendingOffer)
}

func TestRegistry_StorePendingOfferOverwrites(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("s1", domain.RoleStreamer, coretest.NewConn("st"))
	require.NoError(t, err)
	host := coretest.NewConn("h")
	_, err = reg.Register("s1", domain.RoleHost, host)
	require.NoError(t, err)

	_, err = reg.StorePendingOffer("s1", domain.RoleStreamer, core.Frame("first"))
	require.NoError(t, err)
	receivers, err := reg.StorePendingOffer("s1", domain.RoleStreamer, core.Frame("second"))
	require.NoError(t, err)
	assert.Equal(t, []core.ConnID{"h"}, ids(receivers))

	got, ok := reg.ConsumePendingOffer("s1", domain.RoleStreamer)
	require.True(t, ok)
	assert.Equal(t, core.Frame("second"), got)
}

func TestRegistry_StorePendingOfferErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.StorePendingOffer("nope", domain.RoleInitiator, core.Frame("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.Register("s1", domain.RoleViewer, coretest.NewConn("v"))
	require.NoError(t, err)
	_, err = reg.StorePendingOffer("s1", domain.RoleViewer, core.Frame("x"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRegistry_UnregisterProducerDropsOffer(t *testing.T) {
	reg := NewRegistry()
	initr := coretest.NewConn("initr")
	v1 := coretest.NewConn("v1")
	v2 := coretest.NewConn("v2")
	for _, step := range []struct {
		role domain.Role
		conn core.Conn
	}{{domain.RoleInitiator, initr}, {domain.RoleViewer, v1}, {domain.RoleViewer, v2}} {
		_, err := reg.Register("s1", step.role, step.conn)
		require.NoError(t, err)
	}
	_, err := reg.StorePendingOffer("s1", domain.RoleInitiator, core.Frame("offer"))
	require.NoError(t, err)

	vac, ok := reg.Unregister(initr)
	require.True(t, ok)
	assert.Equal(t, domain.RoleInitiator, vac.Role)
	assert.Equal(t, []core.ConnID{"v1", "v2"}, ids(vac.Peers))

	_, ok = reg.ConsumePendingOffer("s1", domain.RoleInitiator)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.SessionCount())
}

func TestRegistry_ViewerLeavingReportsInitiator(t *testing.T) {
	reg := NewRegistry()
	initr := coretest.NewConn("initr")
	v := coretest.NewConn("v")
	_, err := reg.Register("s1", domain.RoleInitiator, initr)
	require.NoError(t, err)
	_, err = reg.Register("s1", domain.RoleViewer, v)
	require.NoError(t, err)

	vac, ok := reg.Unregister(v)
	require.True(t, ok)
	assert.Equal(t, []core.ConnID{"initr"}, ids(vac.Peers))

	_, err = reg.Lookup("s1", domain.RoleViewer)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_LastOccupantDeletesSession(t *testing.T) {
	reg := NewRegistry()
	initr := coretest.NewConn("initr")
	v := coretest.NewConn("v")
	_, err := reg.Register("s1", domain.RoleInitiator, initr)
	require.NoError(t, err)
	_, err = reg.Register("s1", domain.RoleViewer, v)
	require.NoError(t, err)
	_, err = reg.StorePendingOffer("s1", domain.RoleInitiator, core.Frame("offer"))
	require.NoError(t, err)

	_, ok := reg.Unregister(v)
	require.True(t, ok)
	_, ok = reg.Unregister(initr)
	require.True(t, ok)

	assert.Equal(t, 0, reg.SessionCount())
	assert.Equal(t, 0, reg.BindingCount())
	_, ok = reg.SessionInfo("s1")
	assert.False(t, ok)

	res, err := reg.Register("s1", domain.RoleInitiator, coretest.NewConn("init2"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	_, ok = reg.ConsumePendingOffer("s1", domain.RoleInitiator)
	assert.False(t, ok)
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Unregister(coretest.NewConn("ghost"))
	assert.False(t, ok)
}

func TestRegistry_StreamerNotifiesHost(t *testing.T) {
	reg := NewRegistry()
	host := coretest.NewConn("h")
	_, err := reg.Register("s1", domain.RoleHost, host)
	require.NoError(t, err)

	res, err := reg.Register("s1", domain.RoleStreamer, coretest.NewConn("st"))
	require.NoError(t, err)
	assert.Equal(t, []core.ConnID{"h"}, ids(res.Notify))
}

func TestRegistry_SessionsSnapshot(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("b", domain.RoleViewer, coretest.NewConn("v"))
	require.NoError(t, err)
	_, err = reg.Register("a", domain.RoleInitiator, coretest.NewConn("i"))
	require.NoError(t, err)
	_, err = reg.Register("a", domain.RoleHost, coretest.NewConn("h"))
	require.NoError(t, err)
	_, err = reg.StorePendingOffer("a", domain.RoleInitiator, core.Frame("o"))
	require.NoError(t, err)

	infos := reg.Sessions()
	require.Len(t, infos, 2)
	assert.Equal(t, core.SessionInfo{
		ID:            "a",
		Roles:         []domain.Role{domain.RoleInitiator, domain.RoleHost},
		ViewerCount:   0,
		PendingOffers: []domain.Role{domain.RoleInitiator},
	}, infos[0])
	assert.Equal(t, []domain.Role{domain.RoleViewer}, infos[1].Roles)
	assert.Equal(t, 1, infos[1].ViewerCount)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	conns := make([]*coretest.Conn, 50)
	for i := range conns {
		conns[i] = coretest.NewConn(fmt.Sprintf("c%d", i))
	}
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *coretest.Conn) {
			defer wg.Done()
			role := domain.RoleViewer
			if i%10 == 0 {
				role = domain.RoleInitiator
			}
			_, err := reg.Register("s1", role, c)
			assert.NoError(t, err)
		}(i, c)
	}
	wg.Wait()

	initiators, err := reg.Lookup("s1", domain.RoleInitiator)
	require.NoError(t, err)
	assert.Len(t, initiators, 1)

	for _, c := range conns {
		wg.Add(1)
		go func(c *coretest.Conn) {
			defer wg.Done()
			reg.Unregister(c)
		}(c)
	}
	wg.Wait()
	assert.Equal(t, 0, reg.SessionCount())
	assert.Equal(t, 0, reg.BindingCount())
}
