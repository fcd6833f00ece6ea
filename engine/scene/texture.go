package scene

import (
	"bytes"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/lumen/engine/renderer"
)

// Texture is a sampled image source. Pixels are decoded lazily by the
// upload job; Path wins over Pixels when both are set.
type Texture struct {
	ID   uuid.UUID
	Name string
	Path string

	Pixels *image.RGBA
}

func NewTexture(name, path string) *Texture {
	return &Texture{
		ID:   uuid.New(),
		Name: name,
		Path: path,
	}
}

// maxTextureDim bounds uploaded textures; larger sources are downscaled.
const maxTextureDim = 4096

// UploadTexture decodes a texture's pixels into its table record (dimensions
// followed by tightly packed RGBA8 rows) and re-packs the shared texture
// table. The replaced table buffer is retired until in-flight frames drain.
func (m *Manager) UploadTexture(id renderer.EntityID) error {
	m.mutex.Lock()
	texture, ok := m.textures[id]
	m.mutex.Unlock()
	if !ok {
		return fmt.Errorf("upload-texture: unknown texture %s", id)
	}

	pixels, err := texture.decode()
	if err != nil {
		return fmt.Errorf("upload-texture %s: %w", texture.Name, err)
	}

	bounds := pixels.Bounds()
	var record bytes.Buffer
	packBinary(&record, uint32(bounds.Dx()))
	packBinary(&record, uint32(bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		rowStart := pixels.PixOffset(bounds.Min.X, y)
		record.Write(pixels.Pix[rowStart : rowStart+bounds.Dx()*4])
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.texturePixels[id] = record.Bytes()
	if err := m.rebuildTextureTableLocked(); err != nil {
		return fmt.Errorf("upload-texture %s: %w", texture.Name, err)
	}
	return nil
}

// rebuildTextureTableLocked packs every uploaded texture into one storage
// buffer the trace dispatch binds: a texture count, one word offset per
// texture in registration order, then the per-texture records. A registered
// but not yet uploaded texture carries offset zero, which the shader treats
// as absent.
func (m *Manager) rebuildTextureTableLocked() error {
	var packed bytes.Buffer
	count := uint32(len(m.textureOrder))
	packBinary(&packed, count)

	offset := 1 + count
	for _, id := range m.textureOrder {
		record, uploaded := m.texturePixels[id]
		if !uploaded {
			packBinary(&packed, uint32(0))
			continue
		}
		packBinary(&packed, offset)
		offset += uint32(len(record) / 4)
	}
	for _, id := range m.textureOrder {
		packed.Write(m.texturePixels[id])
	}

	buffer, err := m.replaceBufferLocked(m.textureBuffer, packed.Bytes())
	if err != nil {
		return err
	}
	m.textureBuffer = buffer
	return nil
}

func (t *Texture) decode() (*image.RGBA, error) {
	if t.Path == "" {
		if t.Pixels == nil {
			return nil, fmt.Errorf("texture has neither path nor pixels")
		}
		return t.Pixels, nil
	}

	file, err := os.Open(t.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	source, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.Path, err)
	}
	return convertRGBA(source), nil
}

// convertRGBA normalizes any decoded image to RGBA8, downscaling sources
// that exceed the dimension cap.
func convertRGBA(source image.Image) *image.RGBA {
	bounds := source.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= maxTextureDim && height <= maxTextureDim {
		if rgba, ok := source.(*image.RGBA); ok {
			return rgba
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		stddraw.Draw(rgba, rgba.Bounds(), source, bounds.Min, stddraw.Src)
		return rgba
	}

	scale := float64(maxTextureDim) / float64(max(width, height))
	scaled := image.NewRGBA(image.Rect(0, 0, int(float64(width)*scale), int(float64(height)*scale)))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), source, bounds, draw.Src, nil)
	return scaled
}
