// Package orchestrator drives forwarding-graph deployments end to end.
// One Coordinator serves the northbound operations: it validates the
// request, persists the graph under a session, runs the realizer while
// holding the locks of every switch the paths touch, and settles the
// session status. After every data-plane change the exported domain
// description is recomputed and a publish is scheduled.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dorch-network/dorch/pkg/dorch/domain"
	"github.com/dorch-network/dorch/pkg/dorch/locking"
	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/realizer"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/dorch/topology"
	"github.com/dorch-network/dorch/pkg/util"
)

// DescriptionSource is the domain self-description: the attachment
// points incoming graphs may reference, refreshed and saved after every
// change to the deployed state. *domain.Description satisfies it.
type DescriptionSource interface {
	CheckEndpoint(node, iface string) bool
	UpdateAll(ctx context.Context, usage domain.VlanUsageSource, ports domain.PortResolver) error
	Save() error
}

// Notifier schedules a publish of the refreshed domain description.
// *domain.Notifier satisfies it.
type Notifier interface {
	Notify()
}

// Coordinator owns the lifecycle of every forwarding graph in the
// domain. Mutating operations on one session are serialised among
// themselves; distinct sessions only meet at the per-switch locks.
type Coordinator struct {
	store    *store.Store
	realizer *realizer.Realizer
	topo     *topology.Provider
	desc     DescriptionSource
	notifier Notifier
	locks    locking.Locker

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// New wires a coordinator over its collaborators.
func New(st *store.Store, r *realizer.Realizer, topo *topology.Provider,
	desc DescriptionSource, notifier Notifier, locks locking.Locker) *Coordinator {
	return &Coordinator{
		store:    st,
		realizer: r,
		topo:     topo,
		desc:     desc,
		notifier: notifier,
		locks:    locks,
		sessions: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serialising mutations of one session.
func (c *Coordinator) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		c.sessions[sessionID] = m
	}
	return m
}

// PostGraph deploys a new forwarding graph for the user and returns the
// graph id assigned to it. The graph always gets a fresh id, whatever
// the request carried. On any realisation failure the deployment is
// rolled back and the session is marked failed.
func (c *Coordinator) PostGraph(ctx context.Context, userID string, g *nffg.NFFG) (string, error) {
	if err := c.validate(g); err != nil {
		return "", err
	}

	graphID, err := c.newGraphID(ctx)
	if err != nil {
		return "", err
	}
	g.ID = graphID

	appNames, err := c.realizer.ApplicationNames(g)
	if err != nil {
		return "", err
	}

	sessionID, err := c.store.NewSessionID(ctx)
	if err != nil {
		return "", err
	}
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	log := util.WithSession(sessionID).WithField("graph", graphID)
	log.Infof("deploying forwarding graph for user %s", userID)

	if err := c.store.StoreGraph(ctx, sessionID, userID, g, appNames); err != nil {
		return "", err
	}
	if err := c.realise(ctx, sessionID, userID, g); err != nil {
		c.rollback(ctx, sessionID, err)
		return "", err
	}

	log.Info("forwarding graph deployed")
	c.refreshDescription(ctx)
	return graphID, nil
}

// PutGraph replaces the user's deployed graph with the updated one. Only
// the difference touches the data plane: entities leaving the graph are
// torn down, entities already deployed stay untouched, and new or
// changed ones are realised like a fresh deployment. Returns the graph
// id, unchanged by the update.
func (c *Coordinator) PutGraph(ctx context.Context, userID, graphID string, updated *nffg.NFFG) (string, error) {
	updated.ID = graphID
	if err := c.validate(updated); err != nil {
		return "", err
	}

	sess, err := c.store.ActiveSession(ctx, userID, graphID, true)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", util.ErrNoGraphFound
	}
	lock := c.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	log := util.WithSession(sess.ID).WithField("graph", graphID)
	log.Infof("updating forwarding graph for user %s", userID)

	if err := c.store.UpdateStatus(ctx, sess.ID, store.SessionUpdating); err != nil {
		return "", err
	}
	if err := c.applyUpdate(ctx, sess.ID, userID, updated); err != nil {
		c.rollback(ctx, sess.ID, err)
		return "", err
	}

	log.Info("forwarding graph updated")
	c.refreshDescription(ctx)
	return graphID, nil
}

// DeleteGraph tears down the user's deployed graph. Teardown is best
// effort: per-item failures are logged and the session is closed
// regardless.
func (c *Coordinator) DeleteGraph(ctx context.Context, userID, graphID string) error {
	sess, err := c.store.ActiveSession(ctx, userID, graphID, false)
	if err != nil {
		return err
	}
	if sess == nil {
		return util.ErrSessionNotFound
	}
	lock := c.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	log := util.WithSession(sess.ID).WithField("graph", graphID)
	log.Infof("deleting forwarding graph for user %s", userID)

	if err := c.realizer.DeleteGraph(ctx, sess.ID); err != nil {
		log.Errorf("teardown left resources behind: %v", err)
	}
	if err := c.store.UpdateEnded(ctx, sess.ID); err != nil {
		log.Errorf("closing session: %v", err)
	}

	log.Info("forwarding graph deleted")
	c.refreshDescription(ctx)
	return nil
}

// GetGraph returns the user's deployed graph as it was requested, without
// the per-switch rules derived from it.
func (c *Coordinator) GetGraph(ctx context.Context, userID, graphID string) (*nffg.NFFG, error) {
	sess, err := c.store.ActiveSession(ctx, userID, graphID, true)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, util.ErrSessionNotFound
	}
	return c.store.LoadGraph(ctx, sess.ID)
}

// ListGraphs returns every fully deployed graph of the user. A user with
// no deployed graph at all gets ErrSessionNotFound.
func (c *Coordinator) ListGraphs(ctx context.Context, userID string) ([]*store.GraphRecord, error) {
	records, err := c.store.ListGraphs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, util.ErrSessionNotFound
	}
	return records, nil
}

// Status is the deployment progress of one graph.
type Status struct {
	Status     string `json:"status"`
	Percentage int    `json:"percentage"`
}

// StatusGraph reports the session status and how much of the graph
// reached the data plane. Failed sessions always report zero progress.
func (c *Coordinator) StatusGraph(ctx context.Context, userID, graphID string) (*Status, error) {
	sess, err := c.store.ActiveSession(ctx, userID, graphID, false)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, util.ErrSessionNotFound
	}
	percentage := 0
	if sess.Status != store.SessionError {
		percentage, err = c.store.FlowRuleProgress(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
	}
	return &Status{Status: sess.Status, Percentage: percentage}, nil
}

// validate runs structural validation and checks that every bound
// endpoint names an attachment point this domain advertises.
func (c *Coordinator) validate(g *nffg.NFFG) error {
	if err := c.realizer.Validate(g); err != nil {
		return err
	}
	for _, ep := range g.EndPoints {
		node, iface := ep.NodeID(), ep.InterfaceName()
		if node == "" || iface == "" {
			continue
		}
		if !c.desc.CheckEndpoint(node, iface) {
			return util.NewGraphError("endpoint %s: %s/%s is not an attachment point of this domain",
				ep.ID, node, iface)
		}
	}
	return nil
}

// newGraphID draws fresh UUIDs until one does not collide with any graph
// id ever stored.
func (c *Coordinator) newGraphID(ctx context.Context) (string, error) {
	for {
		id := uuid.NewString()
		exists, err := c.store.GraphIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

// applyUpdate reconciles the stored graph against the updated one and
// realises the merged result. The merged graph is annotated in place:
// removed entities are torn down and dropped by the reconciler before
// anything new reaches the store or the switches.
func (c *Coordinator) applyUpdate(ctx context.Context, sessionID, userID string, updated *nffg.NFFG) error {
	deployed, err := c.store.LoadGraph(ctx, sessionID)
	if err != nil {
		return err
	}
	merged := deployed.Diff(updated)

	if err := c.realizer.DeleteAndUpdate(ctx, sessionID, merged); err != nil {
		return err
	}
	appNames, err := c.realizer.ApplicationNames(merged)
	if err != nil {
		return err
	}
	if err := c.store.UpdateGraph(ctx, sessionID, merged, appNames); err != nil {
		return err
	}
	return c.realise(ctx, sessionID, userID, merged)
}

// realise drives the data-plane side of a deployment: topology refresh
// and GRE ports first, then, under the locks of every switch the paths
// will touch, the per-switch flows and the application activation. The
// session turns complete before the locks are released.
func (c *Coordinator) realise(ctx context.Context, sessionID, userID string, g *nffg.NFFG) error {
	if err := c.topo.Refresh(ctx); err != nil {
		return err
	}
	if err := c.realizer.SetupTunnels(ctx, g); err != nil {
		return err
	}
	profile := nffg.NewProfileGraph(g)

	switches := c.realizer.PathSwitches(profile)
	if err := locking.AcquireWithRetry(ctx, c.locks, sessionID, switches); err != nil {
		return err
	}
	defer c.locks.Release(context.WithoutCancel(ctx), sessionID, switches)

	if err := c.realizer.InstallFlows(ctx, sessionID, profile); err != nil {
		return err
	}
	if err := c.realizer.ActivateApplications(ctx, sessionID, userID, profile); err != nil {
		return err
	}
	return c.store.UpdateStatus(ctx, sessionID, store.SessionComplete)
}

// rollback undoes a failed deployment. Cleanup runs detached from the
// caller's context so a cancelled request still gets cleaned up. It is
// best effort: whatever teardown manages to free is freed, and the
// session always ends up failed.
func (c *Coordinator) rollback(ctx context.Context, sessionID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := util.WithSession(sessionID)
	log.Errorf("realisation failed: %v", cause)

	if err := c.realizer.DeleteGraph(ctx, sessionID); err != nil {
		log.Errorf("rollback left resources behind: %v", err)
	} else if err := c.store.UpdateEnded(ctx, sessionID); err != nil {
		log.Errorf("closing session: %v", err)
	}
	if err := c.store.UpdateError(ctx, sessionID); err != nil {
		log.Errorf("marking session failed: %v", err)
	}
}

// refreshDescription recomputes the exported domain description from the
// deployed state and schedules a publish. Failures cost freshness of the
// advertised description, never the operation, so they are only logged.
func (c *Coordinator) refreshDescription(ctx context.Context) {
	if err := c.desc.UpdateAll(ctx, c.store, c.topo); err != nil {
		util.Errorf("refreshing domain description: %v", err)
		return
	}
	if err := c.desc.Save(); err != nil {
		util.Errorf("saving domain description: %v", err)
	}
	c.notifier.Notify()
}
