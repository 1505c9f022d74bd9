package catalog

import (
	"fmt"
	"path"

	ex "github.com/andrej220/eggo/pkg/executor"
)

const (
	// DefaultFork and DefaultBranch select the upstream repositories.
	DefaultFork   = "bigdatagenomics"
	DefaultBranch = "master"

	getPipURL     = "https://bootstrap.pypa.io/get-pip.py"
	mavenMirror   = "http://apache.mesi.com.ar/maven/maven-3"
	mavenRoot     = "/usr/local/apache-maven"
	bashProfile   = "~/.bash_profile"
	adamMavenOpts = "-Xmx1024m -XX:MaxPermSize=512m"
)

func repoURL(fork, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", fork, repo)
}

// checkoutSteps selects the fork and branch of a fresh clone. A
// non-default fork is pulled with the branch as part of the pull; only
// when the fork is the default does a non-default branch get checked out.
func checkoutSteps(repo, fork, branch string) []ex.Step {
	switch {
	case fork != DefaultFork:
		return []ex.Step{ex.Cmdf("git pull --no-commit %s %s", repoURL(fork, repo), branch)}
	case branch != DefaultBranch:
		return []ex.Step{ex.Cmdf("git checkout origin/%s", branch)}
	}
	return nil
}

func installPip() ex.Step {
	return ex.Cd("/tmp",
		ex.Run("curl -O "+getPipURL),
		ex.Run("python get-pip.py"),
	)
}

func installFabricLuigi() ex.Step {
	return ex.Cd("/tmp",
		// protobuf for luigi
		ex.Run("yum install -y protobuf protobuf-devel protobuf-python"),
		ex.Run("pip install mechanize"),
		ex.Run("pip install fabric"),
		ex.Run("pip install ordereddict"), // py2.6 compat for luigi
		ex.Run("pip install luigi"),
	)
}

func installMaven(version string) []ex.Step {
	tarball := fmt.Sprintf("apache-maven-%s-bin.tar.gz", version)
	return []ex.Step{
		ex.Run("mkdir -p " + mavenRoot),
		ex.Cd(mavenRoot,
			ex.Cmdf("wget %s/%s/binaries/%s", mavenMirror, version, tarball),
			ex.Run("tar -xzf "+tarball),
		),
		ex.AppendToFile{
			RemotePath: bashProfile,
			Lines: []string{
				"export M2_HOME=" + path.Join(mavenRoot, "apache-maven-"+version),
				"export M2=$M2_HOME/bin",
				"export PATH=$PATH:$M2",
			},
		},
		ex.Run("mvn -version"),
	}
}

func installAdam(workPath, fork, branch string) ex.Step {
	inRepo := append(checkoutSteps("adam", fork, branch),
		ex.Env(map[string]string{"MAVEN_OPTS": adamMavenOpts},
			ex.Run("mvn clean package -DskipTests"),
		),
	)
	return ex.Cd(workPath,
		ex.Run("git clone "+repoURL(DefaultFork, "adam")),
		ex.Cd("adam", inRepo...),
	)
}

func installEggo(workPath, fork, branch string) ex.Step {
	inRepo := append(checkoutSteps("eggo", fork, branch),
		ex.Run("python setup.py install"),
	)
	return ex.Cd(workPath,
		ex.Run("git clone "+repoURL(DefaultFork, "eggo")),
		ex.Cd("eggo", inRepo...),
	)
}
