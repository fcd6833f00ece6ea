//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaders = map[string]string{
	"assets/shaders/display.vert": "assets/shaders/display.vert.spv",
	"assets/shaders/display.frag": "assets/shaders/display.frag.spv",
	"assets/shaders/trace.comp":   "assets/shaders/trace.comp.spv",
}

// Compiles the GLSL shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	for src, dst := range shaders {
		if _, err := executeCmd("glslc", withArgs(src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the lumen binary.
func (Build) Binary() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "lumen", "."), withStream()); err != nil {
		return err
	}
	return nil
}
