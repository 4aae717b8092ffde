// Package normalmap builds per-tile normal maps from terrain vertex grids
// on a worker pool. Enqueueing is fire-and-forget; finished maps are
// buffered until the frame thread drains them.
package normalmap

import (
	"image"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	log "github.com/sirupsen/logrus"

	"github.com/pspoerri/planetlod/terrain"
)

// Task is one normal-map build request: a tile's vertex grid of
// 3*(GridSize+1)² cartesian coordinates, row 0 on the north edge.
type Task struct {
	Key      terrain.Key
	GridSize int
	Vertices []float64

	// Ref is opaque caller state echoed on the Result, typically the
	// owning segment. The creator never inspects it.
	Ref any
}

// Texture is a finished normal map ready for upload: normals packed into
// RGB with the usual n*0.5+0.5 mapping.
type Texture struct {
	Key   terrain.Key
	Image *image.RGBA
}

// Result is one finished build.
type Result struct {
	Key terrain.Key
	Ref any
	// NormalsRaw are the per-vertex normals accumulated from the mesh
	// faces; Normals are the smoothed set actually shaded with.
	NormalsRaw []float64
	Normals    []float64
	Texture    *Texture
}

// Creator runs normal-map builds on a worker pool. Callers guard enqueue
// idempotence (a segment tracks whether it is already in the queue).
type Creator struct {
	jobs chan Task
	done chan Result
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewCreator starts the worker pool.
func NewCreator(concurrency int) *Creator {
	if concurrency <= 0 {
		concurrency = 1
	}
	c := &Creator{
		jobs: make(chan Task, 1024),
		done: make(chan Result, 1024),
	}
	for w := 0; w < concurrency; w++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Queue schedules a build. Returns false when the queue is saturated or
// the creator is closed; the caller may retry on a later frame.
func (c *Creator) Queue(t Task) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.jobs <- t:
		return true
	default:
		log.WithFields(log.Fields{"z": t.Key.Z, "x": t.Key.X, "y": t.Key.Y}).
			Debug("normal map queue full")
		return false
	}
}

// Drain delivers all buffered results to apply on the caller's goroutine.
func (c *Creator) Drain(apply func(Result)) {
	for {
		select {
		case res := <-c.done:
			apply(res)
		default:
			return
		}
	}
}

// Close stops the workers. Buffered results can still be drained.
func (c *Creator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.jobs)
	c.wg.Wait()
}

func (c *Creator) worker() {
	defer c.wg.Done()
	for t := range c.jobs {
		raw := ComputeNormals(t.Vertices, t.GridSize)
		smooth := Smooth(raw, t.GridSize)
		c.done <- Result{
			Key:        t.Key,
			Ref:        t.Ref,
			NormalsRaw: raw,
			Normals:    smooth,
			Texture:    &Texture{Key: t.Key, Image: PackTexture(smooth, t.GridSize)},
		}
	}
}

// ComputeNormals accumulates face normals of the tile mesh onto its
// vertices and normalizes. The mesh splits each quad along the same
// diagonal the renderer uses (north-east to south-west corner).
func ComputeNormals(vertices []float64, gridSize int) []float64 {
	side := gridSize + 1
	at := func(i, j int) mgl64.Vec3 {
		k := 3 * (i*side + j)
		return mgl64.Vec3{vertices[k], vertices[k+1], vertices[k+2]}
	}

	acc := make([]mgl64.Vec3, side*side)
	add := func(i, j int, n mgl64.Vec3) {
		acc[i*side+j] = acc[i*side+j].Add(n)
	}

	for i := 0; i < gridSize; i++ {
		for j := 0; j < gridSize; j++ {
			lt := at(i, j)
			rt := at(i, j+1)
			lb := at(i+1, j)
			rb := at(i+1, j+1)

			n1 := rt.Sub(lt).Cross(lb.Sub(lt))
			n2 := lb.Sub(rb).Cross(rt.Sub(rb))

			add(i, j, n1)
			add(i, j+1, n1)
			add(i+1, j, n1)
			add(i+1, j+1, n2)
			add(i, j+1, n2)
			add(i+1, j, n2)
		}
	}

	out := make([]float64, 3*side*side)
	for idx, n := range acc {
		// Orient outward from the planet center.
		if n.Dot(at(idx/side, idx%side)) < 0 {
			n = n.Mul(-1)
		}
		if l := n.Len(); l > 0 {
			n = n.Mul(1.0 / l)
		}
		out[3*idx] = n.X()
		out[3*idx+1] = n.Y()
		out[3*idx+2] = n.Z()
	}
	return out
}

// Smooth applies a 3x3 box blur to a normal grid and renormalizes.
func Smooth(normals []float64, gridSize int) []float64 {
	side := gridSize + 1
	out := make([]float64, len(normals))
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			var sum mgl64.Vec3
			for di := -1; di <= 1; di++ {
				for dj := -1; dj <= 1; dj++ {
					ni, nj := i+di, j+dj
					if ni < 0 || nj < 0 || ni >= side || nj >= side {
						continue
					}
					k := 3 * (ni*side + nj)
					sum = sum.Add(mgl64.Vec3{normals[k], normals[k+1], normals[k+2]})
				}
			}
			if l := sum.Len(); l > 0 {
				sum = sum.Mul(1.0 / l)
			}
			k := 3 * (i*side + j)
			out[k] = sum.X()
			out[k+1] = sum.Y()
			out[k+2] = sum.Z()
		}
	}
	return out
}

// PackTexture packs unit normals into an RGBA image with n*0.5+0.5.
func PackTexture(normals []float64, gridSize int) *image.RGBA {
	side := gridSize + 1
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			k := 3 * (i*side + j)
			img.Pix[4*(i*side+j)] = packComponent(normals[k])
			img.Pix[4*(i*side+j)+1] = packComponent(normals[k+1])
			img.Pix[4*(i*side+j)+2] = packComponent(normals[k+2])
			img.Pix[4*(i*side+j)+3] = 255
		}
	}
	return img
}

func packComponent(v float64) uint8 {
	p := (v*0.5 + 0.5) * 255.0
	if p < 0 {
		p = 0
	}
	if p > 255 {
		p = 255
	}
	return uint8(p)
}
