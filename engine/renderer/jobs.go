package renderer

import (
	"fmt"
	"sort"
)

type JobID string

type JobRole int

const (
	JobRoleDestroyExpired JobRole = iota
	JobRoleUpdateTransforms
	JobRoleUpdateRenderParams
	JobRoleUpdateInstances
	JobRoleUpdateEmitters
	JobRoleUpdateMaterials
	JobRoleBuildTLAS
	JobRoleBuildGeometry
	JobRoleUploadTexture
)

func (r JobRole) String() string {
	switch r {
	case JobRoleDestroyExpired:
		return "destroy-expired-resources"
	case JobRoleUpdateTransforms:
		return "update-world-transforms"
	case JobRoleUpdateRenderParams:
		return "update-render-parameters"
	case JobRoleUpdateInstances:
		return "update-instance-buffer"
	case JobRoleUpdateEmitters:
		return "update-emitters"
	case JobRoleUpdateMaterials:
		return "update-materials"
	case JobRoleBuildTLAS:
		return "build-scene-tlas"
	case JobRoleBuildGeometry:
		return "build-geometry"
	case JobRoleUploadTexture:
		return "upload-texture"
	}
	return "unknown"
}

// DirtyCategory maps a failed job back to the category that must be re-marked
// so the work is retried on a subsequent tick.
func (r JobRole) DirtyCategory() DirtyFlag {
	switch r {
	case JobRoleUpdateTransforms:
		return TransformDirty
	case JobRoleBuildGeometry, JobRoleBuildTLAS, JobRoleUpdateInstances:
		return GeometryDirty
	case JobRoleUploadTexture:
		return TextureDirty
	case JobRoleUpdateMaterials:
		return MaterialDirty
	case JobRoleUpdateEmitters:
		return LightDirty
	case JobRoleUpdateRenderParams:
		return CameraDirty
	}
	return NoneDirty
}

// Job is a unit of scene-synchronization work. Persistent jobs are reused
// across ticks; their dependency edges are re-declared fresh every tick.
// Dependencies are held as an explicit adjacency set (node -> predecessor
// ids), never as an implicit object graph.
type Job struct {
	id   JobID
	role JobRole
	run  func() error
	deps map[JobID]struct{}
}

func NewJob(id JobID, role JobRole, run func() error) *Job {
	return &Job{
		id:   id,
		role: role,
		run:  run,
		deps: make(map[JobID]struct{}),
	}
}

func (j *Job) ID() JobID     { return j.id }
func (j *Job) Role() JobRole { return j.role }

func (j *Job) Run() error {
	if j.run == nil {
		return nil
	}
	return j.run()
}

func (j *Job) AddDependency(dep *Job) {
	if dep == nil || dep.id == j.id {
		return
	}
	j.deps[dep.id] = struct{}{}
}

// ClearDependencies removes every declared predecessor. Called on all
// persistent jobs at the start of every build, whether or not the job is
// scheduled this tick; a stale edge would silently serialize unrelated work.
func (j *Job) ClearDependencies() {
	clear(j.deps)
}

func (j *Job) Dependencies() []JobID {
	ids := make([]JobID, 0, len(j.deps))
	for id := range j.deps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func (j *Job) DependsOn(id JobID) bool {
	_, ok := j.deps[id]
	return ok
}

// JobGraphBuilder turns the consumed dirty set into the minimal ordered list
// of update jobs plus their dependency edges, once per tick.
type JobGraphBuilder struct {
	scene        SceneManager
	updateCamera func()
	persistent   map[JobRole]*Job
}

func NewJobGraphBuilder(scene SceneManager, updateCamera func(), refreshParams func() error) *JobGraphBuilder {
	b := &JobGraphBuilder{
		scene:        scene,
		updateCamera: updateCamera,
		persistent:   make(map[JobRole]*Job),
	}
	for role, run := range map[JobRole]func() error{
		JobRoleDestroyExpired:     scene.DestroyExpiredResources,
		JobRoleUpdateTransforms:   scene.UpdateWorldTransforms,
		JobRoleUpdateRenderParams: refreshParams,
		JobRoleUpdateInstances:    scene.UpdateInstanceBuffer,
		JobRoleUpdateEmitters:     scene.UpdateEmitters,
	} {
		b.persistent[role] = NewJob(JobID(role.String()), role, run)
	}
	return b
}

// PersistentJob exposes a persistent node of the registry. Used by tests to
// assert edge hygiene across ticks.
func (b *JobGraphBuilder) PersistentJob(role JobRole) *Job {
	return b.persistent[role]
}

// Build produces this tick's jobs. Consequences of the dirty categories
// accumulate; each category independently triggers its update chain.
func (b *JobGraphBuilder) Build(dirty DirtyFlag) []*Job {
	var jobs []*Job

	var shouldUpdateRenderParams bool
	var shouldUpdateInstances bool
	var shouldUpdateEmitters bool
	var shouldUpdateTLAS bool
	var sceneEntitiesDirty bool

	// Edge hygiene: wipe every prior-tick edge before declaring this tick's.
	for _, job := range b.persistent {
		job.ClearDependencies()
	}

	destroyExpired := b.persistent[JobRoleDestroyExpired]
	transforms := b.persistent[JobRoleUpdateTransforms]
	renderParams := b.persistent[JobRoleUpdateRenderParams]
	instances := b.persistent[JobRoleUpdateInstances]
	emitters := b.persistent[JobRoleUpdateEmitters]

	jobs = append(jobs, destroyExpired)

	transformsScheduled := false
	if dirty.Has(TransformDirty) {
		jobs = append(jobs, transforms)
		transformsScheduled = true
		shouldUpdateRenderParams = true
		shouldUpdateInstances = true
		shouldUpdateEmitters = true
		shouldUpdateTLAS = true
		sceneEntitiesDirty = true
	}

	var geometryJobs []*Job
	if dirty.Has(GeometryDirty) {
		for _, id := range b.scene.AcquireDirtyGeometry() {
			id := id
			job := NewJob(JobID(fmt.Sprintf("build-geometry/%s", id)), JobRoleBuildGeometry, func() error {
				return b.scene.BuildGeometry(id)
			})
			geometryJobs = append(geometryJobs, job)
		}
		jobs = append(jobs, geometryJobs...)
		shouldUpdateTLAS = true
		shouldUpdateInstances = true
		shouldUpdateEmitters = true
		sceneEntitiesDirty = true
	}

	var textureJobs []*Job
	if dirty.Has(TextureDirty) {
		for _, id := range b.scene.AcquireDirtyTextures() {
			id := id
			job := NewJob(JobID(fmt.Sprintf("upload-texture/%s", id)), JobRoleUploadTexture, func() error {
				return b.scene.UploadTexture(id)
			})
			textureJobs = append(textureJobs, job)
		}
		jobs = append(jobs, textureJobs...)
		shouldUpdateEmitters = true
	}

	var materialJobs []*Job
	if dirty.Has(MaterialDirty) || dirty.Has(TextureDirty) {
		// A texture change can affect any material referencing it, and
		// per-material dirty tracking does not capture texture aliasing:
		// force every material through the update.
		var worklist []EntityID
		if dirty.Has(TextureDirty) {
			worklist = b.scene.AllMaterials()
			b.scene.AcquireDirtyMaterials()
		} else {
			worklist = b.scene.AcquireDirtyMaterials()
		}
		job := NewJob(JobID(JobRoleUpdateMaterials.String()), JobRoleUpdateMaterials, func() error {
			return b.scene.UpdateMaterials(worklist)
		})
		for _, textureJob := range textureJobs {
			job.AddDependency(textureJob)
		}
		materialJobs = append(materialJobs, job)
		jobs = append(jobs, materialJobs...)
	}

	if dirty.Has(LightDirty) {
		shouldUpdateEmitters = true
		sceneEntitiesDirty = true
	}

	if dirty.Has(CameraDirty) {
		b.updateCamera()
		shouldUpdateRenderParams = true
	}

	if shouldUpdateRenderParams {
		if transformsScheduled {
			renderParams.AddDependency(transforms)
		}
		jobs = append(jobs, renderParams)
	}

	if sceneEntitiesDirty {
		b.scene.GatherEntities()
	}
	// Nothing renderable means nothing to rebuild: no TLAS, instance or
	// emitter work regardless of what was dirty.
	if len(b.scene.Renderables()) == 0 {
		return jobs
	}

	produced := make([]*Job, 0, len(geometryJobs)+len(materialJobs)+len(textureJobs))
	produced = append(produced, geometryJobs...)
	produced = append(produced, materialJobs...)
	produced = append(produced, textureJobs...)

	if shouldUpdateTLAS {
		tlas := NewJob(JobID(JobRoleBuildTLAS.String()), JobRoleBuildTLAS, b.scene.BuildTLAS)
		if transformsScheduled {
			tlas.AddDependency(transforms)
		}
		for _, dep := range produced {
			tlas.AddDependency(dep)
		}
		jobs = append(jobs, tlas)
	}
	if shouldUpdateInstances {
		if transformsScheduled {
			instances.AddDependency(transforms)
		}
		for _, dep := range produced {
			instances.AddDependency(dep)
		}
		jobs = append(jobs, instances)
	}
	if shouldUpdateEmitters {
		if transformsScheduled {
			emitters.AddDependency(transforms)
		}
		for _, dep := range produced {
			emitters.AddDependency(dep)
		}
		jobs = append(jobs, emitters)
	}

	return jobs
}
